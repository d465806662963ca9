package store

type Medication struct {
	PatientUID string
	Name       string
	Dosage     string
	Schedule   string
	CreatedTs  int64
	UpdatedTs  int64
	ID         int32
	Active     bool
}

type FindMedication struct {
	ID         *int32
	PatientUID *string
	Name       *string
	Active     *bool
}

type UpdateMedication struct {
	Dosage    *string
	Schedule  *string
	Active    *bool
	UpdatedTs *int64
	ID        int32
}

type DeleteMedication struct {
	ID int32
}

// Reminder is a scheduled caregiver reminder. DueTs is a unix timestamp.
type Reminder struct {
	PatientUID string
	Title      string
	Repeat     string
	DueTs      int64
	CreatedTs  int64
	ID         int32
}

type FindReminder struct {
	PatientUID *string
	DueAfter   *int64
	Limit      *int
}

type DeleteReminder struct {
	ID int32
}
