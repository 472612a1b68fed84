package model

import "time"

// Record is an immutable snapshot of a published job posting at fetch time.
type Record struct {
	ID               string    `json:"id"`
	CreatedAt        time.Time `json:"created_at"`
	Title            string    `json:"title"`
	Company          string    `json:"company,omitempty"`
	Category         string    `json:"category,omitempty"`
	Location         string    `json:"location,omitempty"`
	EmploymentType   string    `json:"employment_type,omitempty"`
	WorkLocationType string    `json:"work_location_type,omitempty"`
	ExperienceYears  string    `json:"experience_years,omitempty"`
	IsInternship     bool      `json:"is_internship,omitempty"`
	Link             string    `json:"link"`
	ImageRef         string    `json:"image_ref,omitempty"`
	Body             string    `json:"body,omitempty"`
}

// HasImage reports whether the record carries an image reference.
func (r Record) HasImage() bool {
	return r.ImageRef != ""
}
