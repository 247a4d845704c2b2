package patient

import (
	"errors"
	"strings"
	"time"
)

var ErrNotFound = errors.New("patient not found")

// Patient maps to the patient table.
type Patient struct {
	ID        string     `db:"id" json:"id"`
	MRN       string     `db:"mrn" json:"mrn"`
	FirstName string     `db:"first_name" json:"first_name"`
	LastName  string     `db:"last_name" json:"last_name"`
	BirthDate *time.Time `db:"birth_date" json:"birth_date,omitempty"`
	Gender    string     `db:"gender" json:"gender,omitempty"`
	Phone     string     `db:"phone" json:"phone,omitempty"`
	Email     string     `db:"email" json:"email,omitempty"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt time.Time  `db:"updated_at" json:"updated_at"`
}

func (p *Patient) FullName() string {
	return strings.TrimSpace(p.FirstName + " " + p.LastName)
}

// Matches reports whether q occurs, ignoring case, in the patient's name,
// MRN, phone or email. q must already be lower-cased.
func (p *Patient) Matches(q string) bool {
	for _, f := range []string{p.FullName(), p.MRN, p.Phone, p.Email} {
		if strings.Contains(strings.ToLower(f), q) {
			return true
		}
	}
	return false
}

// Summary is the short form used by patient pickers.
type Summary struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	MRN   string `json:"mrn"`
}

func (p *Patient) Summary() Summary {
	return Summary{ID: p.ID, Label: p.FullName(), MRN: p.MRN}
}
