package models

// Final course outcomes recorded in studentInfo.
const (
	FinalResultPass        = "Pass"
	FinalResultDistinction = "Distinction"
	FinalResultFail        = "Fail"
	FinalResultWithdrawn   = "Withdrawn"
)

// StudentInfo holds one student's demographic and enrollment row for a module presentation.
type StudentInfo struct {
	ID                uint    `gorm:"primaryKey" json:"-"`
	CodeModule        string  `gorm:"size:16;index" json:"code_module"`
	CodePresentation  string  `gorm:"size:16;index" json:"code_presentation"`
	IDStudent         int64   `gorm:"column:id_student;index;not null" json:"id_student"`
	Gender            string  `gorm:"size:8" json:"gender"`
	Region            string  `gorm:"size:64" json:"region"`
	HighestEducation  string  `gorm:"size:64" json:"highest_education"`
	IMDBand           *string `gorm:"column:imd_band;size:16" json:"imd_band"`
	AgeBand           string  `gorm:"size:16" json:"age_band"`
	NumOfPrevAttempts float64 `gorm:"column:num_of_prev_attempts" json:"num_of_prev_attempts"`
	StudiedCredits    float64 `json:"studied_credits"`
	Disability        string  `gorm:"size:4" json:"disability"`
	FinalResult       string  `gorm:"size:16" json:"final_result"`
}

// TableName pins the table name used by the training data source.
func (StudentInfo) TableName() string { return "student_info" }

// IsAtRiskOutcome reports whether the final result counts as a failure outcome.
func (s StudentInfo) IsAtRiskOutcome() bool {
	return s.FinalResult == FinalResultFail || s.FinalResult == FinalResultWithdrawn
}

// StudentAssessment is one submitted assessment. Score may be missing.
type StudentAssessment struct {
	ID            uint     `gorm:"primaryKey" json:"-"`
	IDAssessment  int64    `gorm:"column:id_assessment;index" json:"id_assessment"`
	IDStudent     int64    `gorm:"column:id_student;index;not null" json:"id_student"`
	DateSubmitted *float64 `json:"date_submitted"`
	IsBanked      bool     `json:"is_banked"`
	Score         *float64 `json:"score"`
}

// TableName pins the table name used by the training data source.
func (StudentAssessment) TableName() string { return "student_assessment" }

// StudentInteraction is one day's clickstream total for a VLE resource.
type StudentInteraction struct {
	ID               uint    `gorm:"primaryKey" json:"-"`
	CodeModule       string  `gorm:"size:16" json:"code_module"`
	CodePresentation string  `gorm:"size:16" json:"code_presentation"`
	IDStudent        int64   `gorm:"column:id_student;index;not null" json:"id_student"`
	IDSite           int64   `gorm:"column:id_site" json:"id_site"`
	Date             float64 `json:"date"`
	SumClick         float64 `json:"sum_click"`
}

// TableName pins the table name used by the training data source.
func (StudentInteraction) TableName() string { return "student_vle" }

// StudentRegistration is one registration event; unregistration is absent for students who stayed.
type StudentRegistration struct {
	ID                 uint     `gorm:"primaryKey" json:"-"`
	CodeModule         string   `gorm:"size:16" json:"code_module"`
	CodePresentation   string   `gorm:"size:16" json:"code_presentation"`
	IDStudent          int64    `gorm:"column:id_student;index;not null" json:"id_student"`
	DateRegistration   *float64 `json:"date_registration"`
	DateUnregistration *float64 `json:"date_unregistration"`
}

// TableName pins the table name used by the training data source.
func (StudentRegistration) TableName() string { return "student_registration" }
