package models

// ImageRecord is one ingested source image that yielded at least one object.
// It corresponds to the 'images' table.
type ImageRecord struct {
	ID        int64  `gorm:"primaryKey;autoIncrement" json:"id"`
	Filename  string `gorm:"not null" json:"filename"`
	Filepath  string `gorm:"not null" json:"filepath"`
	Width     *int   `gorm:"" json:"width,omitempty"`         // Nullable
	Height    *int   `gorm:"" json:"height,omitempty"`        // Nullable
	TakenAt   *int64 `gorm:"" json:"taken_at,omitempty"`      // Nullable, Unix timestamp from EXIF
	CreatedAt int64  `gorm:"not null;autoCreateTime" json:"created_at"`

	Objects []ObjectRecord `gorm:"foreignKey:ImageID;constraint:OnDelete:CASCADE" json:"objects,omitempty"`
}

// TableName explicitly sets the table name for GORM.
func (ImageRecord) TableName() string {
	return "images"
}
