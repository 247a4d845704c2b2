// Package attachment reads what it can from an uploaded lab file before it is
// attached to a report. DICOM files carry the patient they belong to.
package attachment

import (
	"bytes"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"
)

var ErrInvalidDICOM = errors.New("file is not a readable DICOM file")

const (
	FormatDICOM = "dicom"
	FormatPDF   = "pdf"
	FormatImage = "image"
	FormatOther = "other"
)

// Info is what Inspect found. Patient and study fields are set for DICOM only.
type Info struct {
	Format           string `json:"format"`
	PatientID        string `json:"patient_id,omitempty"`
	PatientName      string `json:"patient_name,omitempty"`
	Modality         string `json:"modality,omitempty"`
	StudyDate        string `json:"study_date,omitempty"`
	StudyDescription string `json:"study_description,omitempty"`
}

// ReportType suggests the lab report type for the file.
func (i Info) ReportType() string {
	if i.Format == FormatDICOM {
		return "imaging"
	}
	return ""
}

// Inspect classifies data and, for DICOM, reads the patient and study header.
// Pixel data is skipped.
func Inspect(data []byte, contentType, fileName string) (Info, error) {
	switch {
	case isDICOM(data, contentType, fileName):
		return inspectDICOM(data)
	case contentType == "application/pdf" || bytes.HasPrefix(data, []byte("%PDF-")):
		return Info{Format: FormatPDF}, nil
	case strings.HasPrefix(contentType, "image/"):
		return Info{Format: FormatImage}, nil
	}
	return Info{Format: FormatOther}, nil
}

// isDICOM checks the "DICM" marker after the 128-byte preamble, then falls
// back to the declared type and extension.
func isDICOM(data []byte, contentType, fileName string) bool {
	if len(data) >= 132 && string(data[128:132]) == "DICM" {
		return true
	}
	if contentType == "application/dicom" {
		return true
	}
	return strings.EqualFold(filepath.Ext(fileName), ".dcm")
}

func inspectDICOM(data []byte) (Info, error) {
	ds, err := dicom.Parse(bytes.NewReader(data), int64(len(data)), nil, dicom.SkipPixelData())
	if err != nil {
		return Info{}, fmt.Errorf("%w: %v", ErrInvalidDICOM, err)
	}
	info := Info{Format: FormatDICOM}
	info.PatientID = elementString(ds, tag.PatientID)
	info.PatientName = personName(elementString(ds, tag.PatientName))
	info.Modality = elementString(ds, tag.Modality)
	info.StudyDate = elementString(ds, tag.StudyDate)
	info.StudyDescription = elementString(ds, tag.StudyDescription)
	return info, nil
}

func elementString(ds dicom.Dataset, t tag.Tag) string {
	el, err := ds.FindElementByTag(t)
	if err != nil || el.Value == nil {
		return ""
	}
	return strings.Trim(el.Value.String(), " []")
}

// personName turns "DOE^JANE" into "JANE DOE".
func personName(pn string) string {
	if pn == "" {
		return ""
	}
	parts := strings.Split(pn, "^")
	if len(parts) == 1 {
		return strings.TrimSpace(pn)
	}
	given := strings.TrimSpace(strings.Join(parts[1:], " "))
	return strings.TrimSpace(given + " " + strings.TrimSpace(parts[0]))
}
