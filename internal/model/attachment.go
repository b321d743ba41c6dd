package model

import (
	"fmt"
	"strings"
)

type Attachment struct {
	FileID   string `json:"file_id"`
	FileName string `json:"file_name"`
	FileSize int64  `json:"file_size"`
	MimeType string `json:"mime_type"`
}

// FileKind is the rendering classification of an attachment. It is derived
// from the MIME type on demand and never stored.
type FileKind string

const (
	FileImage        FileKind = "image"
	FileVideo        FileKind = "video"
	FileAudio        FileKind = "audio"
	FilePDF          FileKind = "pdf"
	FileDocument     FileKind = "document"
	FileSpreadsheet  FileKind = "spreadsheet"
	FilePresentation FileKind = "presentation"
	FileArchive      FileKind = "archive"
	FileText         FileKind = "text"
	FileGeneric      FileKind = "file"
)

// ClassifyMime maps a MIME type to its rendering kind.
func ClassifyMime(mimeType string) FileKind {
	mt := strings.ToLower(strings.TrimSpace(mimeType))
	if i := strings.Index(mt, ";"); i >= 0 {
		mt = strings.TrimSpace(mt[:i])
	}
	switch {
	case strings.HasPrefix(mt, "image/"):
		return FileImage
	case strings.HasPrefix(mt, "video/"):
		return FileVideo
	case strings.HasPrefix(mt, "audio/"):
		return FileAudio
	case mt == "application/pdf":
		return FilePDF
	}
	switch mt {
	case "application/msword",
		"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
		"application/vnd.oasis.opendocument.text",
		"application/rtf":
		return FileDocument
	case "application/vnd.ms-excel",
		"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
		"application/vnd.oasis.opendocument.spreadsheet",
		"text/csv":
		return FileSpreadsheet
	case "application/vnd.ms-powerpoint",
		"application/vnd.openxmlformats-officedocument.presentationml.presentation",
		"application/vnd.oasis.opendocument.presentation":
		return FilePresentation
	case "application/zip", "application/x-zip-compressed", "application/x-tar",
		"application/gzip", "application/x-7z-compressed", "application/x-rar-compressed":
		return FileArchive
	}
	if strings.HasPrefix(mt, "text/") || mt == "application/json" || mt == "application/xml" {
		return FileText
	}
	return FileGeneric
}

func (a Attachment) Kind() FileKind { return ClassifyMime(a.MimeType) }

// FormatFileSize renders a byte count the way the attachment card shows it.
func FormatFileSize(size int64) string {
	const unit = 1024
	if size < unit {
		return fmt.Sprintf("%d B", size)
	}
	div, exp := int64(unit), 0
	for n := size / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(size)/float64(div), "KMGT"[exp])
}
