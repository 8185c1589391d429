package media

type AssetType string

const (
	AssetTypeObject AssetType = "object" // cropped detection regions
	AssetTypeQuery  AssetType = "query"  // regions cropped from query images
	AssetTypeUpload AssetType = "upload" // query uploads and extracted zip batches
)

// Metadata holds the dimension and EXIF fields recorded for an ingested image.
type Metadata struct {
	Width       *int    `json:"width,omitempty"`
	Height      *int    `json:"height,omitempty"`
	CameraMake  *string `json:"camera_make,omitempty"`
	CameraModel *string `json:"camera_model,omitempty"`
	TakenAt     *int64  `json:"taken_at,omitempty"`
}
