// Package source reads published job postings from the external data store.
package source

import (
	"context"
	"fmt"
	"strings"
	"time"

	"job-alert-relay/internal/model"
)

// RecordSource is the external collaborator the detection run polls
type RecordSource interface {
	// FetchCandidates returns published records created at or after since.
	// The result may include records outside the boundary or records that
	// were already delivered.
	FetchCandidates(ctx context.Context, since time.Time) ([]model.Record, error)
	// FetchByID returns one record, or nil when it does not exist.
	FetchByID(ctx context.Context, id string) (*model.Record, error)
}

// Options controls how rows are turned into records
type Options struct {
	Table        string
	SiteURL      string
	ImageBaseURL string
	Timeout      time.Duration
}

// jobRow is the shape of a job_posts row with its joined lookups
type jobRow struct {
	ID               string     `json:"id" gorm:"column:id"`
	Title            string     `json:"title" gorm:"column:title"`
	Slug             string     `json:"slug" gorm:"column:slug"`
	CompanyName      string     `json:"companyName" gorm:"column:companyName"`
	EmploymentType   string     `json:"employmentType" gorm:"column:employmentType"`
	WorkLocationType string     `json:"workLocationType" gorm:"column:workLocationType"`
	IsInternship     bool       `json:"isInternship" gorm:"column:isInternship"`
	ExperienceYears  *string    `json:"experienceYears" gorm:"column:experienceYears"`
	Description      *string    `json:"uniqueDescription" gorm:"column:uniqueDescription"`
	ApplyURL         string     `json:"linkedInApplyURL" gorm:"column:linkedInApplyURL"`
	IsPublished      bool       `json:"isPublished" gorm:"column:isPublished"`
	ImageURL         *string    `json:"jobImageUrl" gorm:"column:jobImageUrl"`
	CreatedAt        *time.Time `json:"createdAt" gorm:"column:createdAt"`
	CategoryName     string     `json:"-" gorm:"column:category_name"`
	CountryName      string     `json:"-" gorm:"column:country_name"`
	CityName         string     `json:"-" gorm:"column:city_name"`
}

var (
	employmentLabels = map[string]string{
		"FULL_TIME": "Full Time",
		"PART_TIME": "Part Time",
		"CONTRACT":  "Contract",
	}
	workLocationLabels = map[string]string{
		"ONSITE": "On-site",
		"REMOTE": "Remote",
		"HYBRID": "Hybrid",
	}
	experienceLabels = map[string]string{
		"ONE_PLUS":  "1+ years",
		"TWO_PLUS":  "2+ years",
		"FIVE_PLUS": "5+ years",
	}
)

func label(labels map[string]string, v string) string {
	if l, ok := labels[v]; ok {
		return l
	}
	return v
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func (o Options) toRecord(row jobRow) (model.Record, error) {
	if strings.TrimSpace(row.ID) == "" {
		return model.Record{}, fmt.Errorf("row without id")
	}

	rec := model.Record{
		ID:               row.ID,
		Title:            row.Title,
		Company:          row.CompanyName,
		Category:         row.CategoryName,
		EmploymentType:   label(employmentLabels, row.EmploymentType),
		WorkLocationType: label(workLocationLabels, row.WorkLocationType),
		ExperienceYears:  label(experienceLabels, deref(row.ExperienceYears)),
		IsInternship:     row.IsInternship,
		Body:             deref(row.Description),
		Link:             o.link(row),
		ImageRef:         o.imageURL(deref(row.ImageURL)),
	}
	if row.CreatedAt != nil {
		rec.CreatedAt = row.CreatedAt.UTC()
	}

	var parts []string
	if row.CityName != "" {
		parts = append(parts, row.CityName)
	}
	if row.CountryName != "" {
		parts = append(parts, row.CountryName)
	}
	rec.Location = strings.Join(parts, ", ")

	return rec, nil
}

func (o Options) link(row jobRow) string {
	if o.SiteURL != "" && row.Slug != "" {
		return strings.TrimRight(o.SiteURL, "/") + "/jobs/" + row.Slug
	}
	return row.ApplyURL
}

// imageURL turns a bare storage path into a full URL
func (o Options) imageURL(ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ""
	}
	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") || o.ImageBaseURL == "" {
		return ref
	}
	return strings.TrimRight(o.ImageBaseURL, "/") + "/" + strings.TrimLeft(ref, "/")
}
