package models

// DeployedSeed is one published random variant of a question.
type DeployedSeed struct {
	ID         uint  `json:"id" gorm:"primaryKey"`
	QuestionID uint  `json:"question_id" gorm:"not null;index"`
	Seed       int64 `json:"seed" gorm:"not null"`
}

func (DeployedSeed) TableName() string { return "deployed_seeds" }
