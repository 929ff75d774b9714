package prompts

import (
	"fmt"
	"strings"
)

// NotFound is the literal the model must return for fields absent from a transcript.
const NotFound = "Not Found"

// FieldContext describes one field to extract.
type FieldContext struct {
	Name        string
	Instruction string
}

// ExtractionSystemMessage is the system prompt shared by all extraction requests.
const ExtractionSystemMessage = "You extract structured data from call transcripts. " +
	"You respond with a single JSON object and nothing else. " +
	"You never guess: a value that is not stated in the transcript is reported as \"" + NotFound + "\"."

// BuildFieldExtractionPrompt creates the prompt for extracting the given fields
// from one transcript. The response must be a JSON object keyed by exactly the
// field names, in the order given.
func BuildFieldExtractionPrompt(transcript string, fields []FieldContext) string {
	var prompt strings.Builder

	prompt.WriteString("# Call Transcript Field Extraction\n\n")
	prompt.WriteString("Read the call transcript below and extract the following fields.\n\n")

	prompt.WriteString("## Fields\n\n")
	for _, f := range fields {
		instruction := strings.TrimSpace(f.Instruction)
		if instruction == "" {
			instruction = "Extract this value if it is mentioned."
		}
		prompt.WriteString(fmt.Sprintf("- `%s`: %s\n", f.Name, instruction))
	}

	prompt.WriteString("\n## Transcript\n\n")
	prompt.WriteString("```\n")
	prompt.WriteString(transcript)
	prompt.WriteString("\n```\n\n")

	prompt.WriteString("## Response Format\n\n")
	prompt.WriteString("Respond with a JSON object whose keys are exactly these field names: ")
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = fmt.Sprintf("%q", f.Name)
	}
	prompt.WriteString(strings.Join(names, ", "))
	prompt.WriteString(".\n")
	prompt.WriteString(fmt.Sprintf("Every value must be a string. Use the exact string %q for any field the transcript does not mention.\n", NotFound))
	prompt.WriteString("Do not add keys, comments or explanations.\n\n")
	prompt.WriteString("Example:\n```json\n{")
	for i, f := range fields {
		if i > 0 {
			prompt.WriteString(", ")
		}
		prompt.WriteString(fmt.Sprintf("%q: \"...\"", f.Name))
	}
	prompt.WriteString("}\n```\n")

	return prompt.String()
}

// DoctorInfoFields are the fixed fields of the legacy doctor-info layout, in column order.
var DoctorInfoFields = []FieldContext{
	{Name: "doctor_name", Instruction: "Full name of the doctor the caller spoke about or to, including the title (e.g. Dr.)."},
	{Name: "clinic_name", Instruction: "Name of the clinic or hospital."},
	{Name: "phone_number", Instruction: "Contact phone number mentioned for the doctor or clinic, digits only with an optional leading +."},
	{Name: "email", Instruction: "Contact email address mentioned in the call."},
	{Name: "city", Instruction: "City where the clinic or hospital is located."},
}

// BuildDoctorInfoPrompt creates the legacy doctor-info extraction prompt.
func BuildDoctorInfoPrompt(transcript string) string {
	return BuildFieldExtractionPrompt(transcript, DoctorInfoFields)
}
