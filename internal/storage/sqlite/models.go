package sqlite

// UsageStatModel is one row of the usage_stats table, keyed by
// (timestamp, process_name).
type UsageStatModel struct {
	Timestamp   int64  `gorm:"primaryKey;autoIncrement:false"`
	ProcessName string `gorm:"primaryKey;size:255"`
	Duration    int64  `gorm:"not null"`
}

// TableName pins the table name.
func (UsageStatModel) TableName() string { return "usage_stats" }

// EngineStateModel stores a JSON-encoded state value under a fixed key.
type EngineStateModel struct {
	Key       string `gorm:"column:state_key;primaryKey;size:64"`
	Value     string `gorm:"not null"`
	UpdatedAt int64  `gorm:"autoUpdateTime"`
}

// TableName pins the table name.
func (EngineStateModel) TableName() string { return "engine_state" }
