package models

// ObjectRecord is one detected region persisted with its signature.
// It corresponds to the 'objects' table. SignatureSize is 0 exactly when
// Signature is NULL.
type ObjectRecord struct {
	ID              int64   `gorm:"primaryKey;autoIncrement" json:"id"`
	ImageID         int64   `gorm:"not null;index:idx_objects_image" json:"image_id"`
	ObjectClass     string  `gorm:"not null;index:idx_objects_class" json:"object_class"`
	Confidence      float64 `gorm:"not null;index:idx_objects_confidence" json:"confidence"`
	BBoxX1          int     `gorm:"column:bbox_x1;not null" json:"bbox_x1"`
	BBoxY1          int     `gorm:"column:bbox_y1;not null" json:"bbox_y1"`
	BBoxX2          int     `gorm:"column:bbox_x2;not null" json:"bbox_x2"`
	BBoxY2          int     `gorm:"column:bbox_y2;not null" json:"bbox_y2"`
	ObjectImagePath string  `gorm:"not null" json:"object_image_path"`
	Signature       []byte  `gorm:"column:signature" json:"-"`                                                  // Nullable BLOB
	SignatureSize   int     `gorm:"not null;default:0;index:idx_objects_signature_size" json:"signature_size"` // keypoints or embedding dim
	CreatedAt       int64   `gorm:"not null;autoCreateTime" json:"created_at"`

	Image *ImageRecord `gorm:"foreignKey:ImageID" json:"image,omitempty"`
}

// TableName explicitly sets the table name for GORM.
func (ObjectRecord) TableName() string {
	return "objects"
}
