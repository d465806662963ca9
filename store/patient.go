package store

// Caregiver is a contact that receives alerts for a patient.
type Caregiver struct {
	Name      string `json:"name"`
	Recipient string `json:"recipient"`
	Channel   string `json:"channel,omitempty"`
}

type Patient struct {
	UID        string
	Name       string
	Conditions []string
	Caregivers []Caregiver
	CreatedTs  int64
	UpdatedTs  int64
	ID         int32
	BirthYear  int32
}

type FindPatient struct {
	ID  *int32
	UID *string
}

type UpdatePatient struct {
	Name       *string
	Conditions *[]string
	Caregivers *[]Caregiver
	UpdatedTs  *int64
	ID         int32
}

type DeletePatient struct {
	ID int32
}
