package models

// StoreMeta holds store-wide settings such as the matching strategy the
// store was built with.
type StoreMeta struct {
	Key   string `gorm:"primaryKey;column:meta_key" json:"key"`
	Value string `gorm:"not null;column:meta_value" json:"value"`
}

func (StoreMeta) TableName() string {
	return "store_meta"
}
