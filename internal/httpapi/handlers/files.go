package handlers

import (
	"errors"
	"io"
	"log"
	"net/http"
	"path/filepath"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/woolychat/internal/attachments"
	"github.com/suPer8Hu/woolychat/internal/common"
	"github.com/suPer8Hu/woolychat/internal/files"
)

const textPreviewChars = 200

type uploadResp struct {
	ID               string `json:"id"`
	OriginalFilename string `json:"original_filename"`
	Filename         string `json:"filename"`
	FileSize         int64  `json:"file_size"`
	FileSizeStr      string `json:"file_size_str"`
	MimeType         string `json:"mime_type"`
	FilePath         string `json:"file_path"`
	HasText          bool   `json:"has_text"`
	TextPreview      string `json:"text_preview"`
	ExtractedText    string `json:"extracted_text"`
}

// Upload stores one multipart "file" and returns the descriptor a later
// /api/chat call passes back in its attachments list.
func (h *Handler) Upload(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.Validator.MaxFileSize+1<<20)

	fh, err := c.FormFile("file")
	if err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			common.Fail(c, http.StatusRequestEntityTooLarge, "file too large: maximum size is "+files.FormatSize(h.Validator.MaxFileSize))
			return
		}
		common.Fail(c, http.StatusBadRequest, "No file provided")
		return
	}
	original := filepath.Base(fh.Filename)
	if fh.Filename == "" || original == "." || original == string(filepath.Separator) {
		common.Fail(c, http.StatusBadRequest, "No file selected")
		return
	}

	f, err := fh.Open()
	if err != nil {
		log.Printf("[Upload] open part failed file=%q err=%v", original, err)
		common.Fail(c, http.StatusBadRequest, "failed to read upload")
		return
	}
	defer f.Close()

	head := make([]byte, 512)
	n, _ := io.ReadFull(f, head)
	mimeType := files.DetectMime(original, head[:n])

	if err := h.Validator.Validate(original, mimeType, fh.Size); err != nil {
		common.Fail(c, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.Validator.CheckContent(mimeType, head[:n]); err != nil {
		log.Printf("[Upload] content rejected file=%q err=%v", original, err)
		common.Fail(c, http.StatusBadRequest, err.Error())
		return
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		common.Fail(c, http.StatusInternalServerError, "failed to read upload")
		return
	}

	unique := files.UniqueFilename(original)
	path, err := h.Files.Put(c.Request.Context(), unique, f)
	if err != nil {
		log.Printf("[Upload] store failed file=%q err=%v", original, err)
		common.Fail(c, http.StatusInternalServerError, "failed to store file")
		return
	}

	text := attachments.ExtractText(path, mimeType)
	log.Printf("[Upload] stored file=%q as=%s size=%s mime=%s", original, unique, files.FormatSize(fh.Size), mimeType)

	common.OK(c, http.StatusOK, uploadResp{
		ID:               unique,
		OriginalFilename: original,
		Filename:         unique,
		FileSize:         fh.Size,
		FileSizeStr:      files.FormatSize(fh.Size),
		MimeType:         mimeType,
		FilePath:         path,
		HasText:          text != "",
		TextPreview:      preview(text, textPreviewChars),
		ExtractedText:    text,
	})
}

func preview(text string, n int) string {
	r := []rune(text)
	if len(r) <= n {
		return text
	}
	return string(r[:n]) + "..."
}

// ServeFile returns a stored upload by its generated name.
func (h *Handler) ServeFile(c *gin.Context) {
	name := c.Param("filename")
	f, err := h.Files.Open(c.Request.Context(), name)
	if err != nil {
		if errors.Is(err, files.ErrNotFound) || errors.Is(err, files.ErrPathTraversal) {
			common.Fail(c, http.StatusNotFound, "file not found")
			return
		}
		log.Printf("[ServeFile] open failed file=%q err=%v", name, err)
		common.Fail(c, http.StatusInternalServerError, "failed to open file")
		return
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil || !fi.Mode().IsRegular() {
		common.Fail(c, http.StatusNotFound, "file not found")
		return
	}
	c.Header("Content-Type", files.DetectMime(name, nil))
	http.ServeContent(c.Writer, c.Request, name, fi.ModTime(), f)
}
