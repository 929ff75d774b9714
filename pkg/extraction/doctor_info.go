package extraction

import (
	"context"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-calls/pkg/prompts"
)

// DoctorInfo is the legacy fixed extraction layout. Missing values are empty strings.
type DoctorInfo struct {
	DoctorName  string `json:"doctor_name"`
	ClinicName  string `json:"clinic_name"`
	PhoneNumber string `json:"phone_number"`
	Email       string `json:"email"`
	City        string `json:"city"`
}

// DoctorInfoColumns are the sheet headers of the legacy layout, in row order.
var DoctorInfoColumns = []string{"Doctor Name", "Clinic/Hospital Name", "Phone Number", "Email", "City"}

// HasMeaningfulData reports whether any field is non-empty.
func (d *DoctorInfo) HasMeaningfulData() bool {
	for _, v := range d.Values() {
		if v != "" {
			return true
		}
	}
	return false
}

// Values returns the fields in DoctorInfoColumns order.
func (d *DoctorInfo) Values() []string {
	return []string{d.DoctorName, d.ClinicName, d.PhoneNumber, d.Email, d.City}
}

// AsMap returns the form stored in extracted_data.doctor_info.
func (d *DoctorInfo) AsMap() map[string]any {
	return map[string]any{
		"doctor_name":  d.DoctorName,
		"clinic_name":  d.ClinicName,
		"phone_number": d.PhoneNumber,
		"email":        d.Email,
		"city":         d.City,
	}
}

// DoctorInfoExtractor extracts the legacy layout. It asks the backend first
// and falls back to pattern matching when the backend is unavailable or fails.
type DoctorInfoExtractor struct {
	fields FieldExtractor
	logger *zap.Logger
}

// NewDoctorInfoExtractor wraps a FieldExtractor for the legacy layout.
func NewDoctorInfoExtractor(fields FieldExtractor, logger *zap.Logger) *DoctorInfoExtractor {
	return &DoctorInfoExtractor{
		fields: fields,
		logger: logger.Named("doctor-info-extractor"),
	}
}

// Extract never fails: backend errors fall through to the pattern matcher.
// An empty transcript yields an empty DoctorInfo.
func (x *DoctorInfoExtractor) Extract(ctx context.Context, transcript string) *DoctorInfo {
	if strings.TrimSpace(transcript) == "" {
		return &DoctorInfo{}
	}

	if x.fields.Available() {
		fields := make([]Field, len(prompts.DoctorInfoFields))
		for i, f := range prompts.DoctorInfoFields {
			fields[i] = Field{Name: f.Name, Instruction: f.Instruction}
		}

		values, err := x.fields.Extract(ctx, transcript, fields)
		if err == nil {
			return doctorInfoFromValues(values)
		}
		x.logger.Warn("Backend extraction failed, using pattern fallback", zap.Error(err))
	}

	return ExtractDoctorInfoFallback(transcript)
}

func doctorInfoFromValues(values map[string]string) *DoctorInfo {
	get := func(name string) string {
		v := values[name]
		if v == NotFound {
			return ""
		}
		return v
	}
	return &DoctorInfo{
		DoctorName:  get("doctor_name"),
		ClinicName:  get("clinic_name"),
		PhoneNumber: get("phone_number"),
		Email:       get("email"),
		City:        get("city"),
	}
}

var (
	doctorPattern = regexp.MustCompile(`\b(?:Dr\.?|dr\.?|Doctor|doctor)\s+([A-Z][a-z]+(?:\s+[A-Z][a-z]+){0,2})`)
	clinicPattern = regexp.MustCompile(`\b((?:[A-Z][\w&'.-]*\s+){1,4}(?:Clinic|Hospital|Hospitals|Medical Centre|Medical Center|Nursing Home|Healthcare))\b`)
	phonePattern  = regexp.MustCompile(`\+?\d[\d\s-]{8,15}\d`)
	emailPattern  = regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`)
	cityPattern   = regexp.MustCompile(`\b(?:[Cc]ity\s+(?:is\s+|of\s+)?|located in\s+|based in\s+|clinic in\s+|hospital in\s+)([A-Z][a-z]+(?:\s[A-Z][a-z]+)?)`)
)

// ExtractDoctorInfoFallback pulls the legacy fields out with regular expressions.
func ExtractDoctorInfoFallback(transcript string) *DoctorInfo {
	info := &DoctorInfo{}

	if m := doctorPattern.FindStringSubmatch(transcript); m != nil {
		info.DoctorName = "Dr. " + m[1]
	}
	if m := clinicPattern.FindStringSubmatch(transcript); m != nil {
		info.ClinicName = strings.TrimSpace(m[1])
	}
	for _, candidate := range phonePattern.FindAllString(transcript, -1) {
		if phone, ok := normalizePhone(candidate); ok {
			info.PhoneNumber = phone
			break
		}
	}
	if m := emailPattern.FindString(transcript); m != "" {
		info.Email = strings.ToLower(strings.TrimRight(m, "."))
	}
	if m := cityPattern.FindStringSubmatch(transcript); m != nil {
		info.City = m[1]
	}

	return info
}

// normalizePhone strips separators and accepts 10 to 13 digits.
func normalizePhone(s string) (string, bool) {
	var b strings.Builder
	for i, r := range s {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' && i == 0:
			b.WriteRune(r)
		}
	}
	phone := b.String()
	digits := len(strings.TrimPrefix(phone, "+"))
	return phone, digits >= 10 && digits <= 13
}
