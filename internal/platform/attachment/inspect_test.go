package attachment

import (
	"bytes"
	"errors"
	"testing"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"
)

func mustNewElement(t *testing.T, tg tag.Tag, value interface{}) *dicom.Element {
	t.Helper()
	el, err := dicom.NewElement(tg, value)
	if err != nil {
		t.Fatalf("NewElement(%v): %v", tg, err)
	}
	return el
}

func dicomFile(t *testing.T, patientID, patientName string) []byte {
	t.Helper()
	ds := dicom.Dataset{Elements: []*dicom.Element{
		mustNewElement(t, tag.MediaStorageSOPClassUID, []string{"1.2.840.10008.5.1.4.1.1.2"}),
		mustNewElement(t, tag.MediaStorageSOPInstanceUID, []string{"1.2.826.0.1.3680043.8.498.2"}),
		mustNewElement(t, tag.TransferSyntaxUID, []string{"1.2.840.10008.1.2.1"}),
		mustNewElement(t, tag.PatientName, []string{patientName}),
		mustNewElement(t, tag.PatientID, []string{patientID}),
		mustNewElement(t, tag.StudyDate, []string{"20240501"}),
		mustNewElement(t, tag.StudyDescription, []string{"CHEST CT"}),
		mustNewElement(t, tag.Modality, []string{"CT"}),
	}}
	var buf bytes.Buffer
	if err := dicom.Write(&buf, ds); err != nil {
		t.Fatalf("dicom.Write: %v", err)
	}
	return buf.Bytes()
}

func TestInspect_DICOM(t *testing.T) {
	data := dicomFile(t, "MRN-1001", "DOE^JANE")

	info, err := Inspect(data, "application/octet-stream", "scan.bin")
	if err != nil {
		t.Fatalf("Inspect() error: %v", err)
	}
	if info.Format != FormatDICOM {
		t.Fatalf("expected dicom, got %q", info.Format)
	}
	if info.PatientID != "MRN-1001" {
		t.Errorf("expected patient id MRN-1001, got %q", info.PatientID)
	}
	if info.PatientName != "JANE DOE" {
		t.Errorf("expected JANE DOE, got %q", info.PatientName)
	}
	if info.Modality != "CT" || info.StudyDate != "20240501" || info.StudyDescription != "CHEST CT" {
		t.Errorf("unexpected study fields %+v", info)
	}
	if info.ReportType() != "imaging" {
		t.Errorf("expected imaging report type, got %q", info.ReportType())
	}
}

func TestInspect_BrokenDICOM(t *testing.T) {
	_, err := Inspect([]byte("not really dicom"), "application/dicom", "scan.dcm")
	if !errors.Is(err, ErrInvalidDICOM) {
		t.Errorf("expected ErrInvalidDICOM, got %v", err)
	}
}

func TestInspect_OtherFormats(t *testing.T) {
	tests := []struct {
		name        string
		data        []byte
		contentType string
		want        string
	}{
		{"pdf by type", []byte("anything"), "application/pdf", FormatPDF},
		{"pdf by magic", []byte("%PDF-1.7 ..."), "application/octet-stream", FormatPDF},
		{"png", []byte{0x89, 'P', 'N', 'G'}, "image/png", FormatImage},
		{"csv", []byte("test,value\nHb,13"), "text/csv", FormatOther},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info, err := Inspect(tt.data, tt.contentType, "file")
			if err != nil {
				t.Fatalf("Inspect() error: %v", err)
			}
			if info.Format != tt.want {
				t.Errorf("expected %q, got %q", tt.want, info.Format)
			}
			if info.PatientID != "" || info.ReportType() != "" {
				t.Errorf("non-DICOM files carry no patient: %+v", info)
			}
		})
	}
}

func TestPersonName(t *testing.T) {
	for in, want := range map[string]string{
		"":               "",
		"DOE^JANE":       "JANE DOE",
		"DOE^JANE^MARIE": "JANE MARIE DOE",
		"Anonymous":      "Anonymous",
	} {
		if got := personName(in); got != want {
			t.Errorf("personName(%q) = %q, want %q", in, got, want)
		}
	}
}
