// Package attachments turns uploaded files into prompt context: inline base64
// images and a plain-text block appended to the user's message.
package attachments

// Descriptor identifies an uploaded file to fold into a turn.
type Descriptor struct {
	FilePath         string  `json:"file_path"`
	MimeType         string  `json:"mime_type"`
	OriginalFilename string  `json:"original_filename"`
	Filename         string  `json:"filename"`
	FileSize         int64   `json:"file_size"`
	ExtractedText    *string `json:"extracted_text,omitempty"`
}

func (d Descriptor) IsImage() bool {
	return isImage(normalizeMime(d.MimeType))
}
