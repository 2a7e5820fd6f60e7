package app

import (
	"context"
	"io"
	"log"
	"net/http"
	"time"

	"harbor/api/internal/store"
	"harbor/api/internal/util"
)

func documentPayload(doc store.Document) map[string]any {
	return map[string]any{
		"id":          doc.ID,
		"clientId":    doc.ClientID,
		"filename":    doc.Filename,
		"contentType": doc.ContentType,
		"sizeBytes":   doc.SizeBytes,
		"uploadedBy":  doc.UploadedBy,
		"createdAt":   doc.CreatedAt,
	}
}

func (s *Service) documentsEnabled() error {
	if s.blob == nil {
		return domainError(http.StatusServiceUnavailable, "DOCUMENTS_UNAVAILABLE", "Document storage not configured", nil)
	}
	return nil
}

func (s *Service) ListClientDocuments(ctx context.Context, clientID string) ([]map[string]any, error) {
	if _, err := s.store.GetClient(ctx, clientID); err != nil {
		return nil, err
	}
	docs, err := s.store.ListClientDocuments(ctx, clientID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(docs))
	for _, doc := range docs {
		items = append(items, documentPayload(doc))
	}
	return items, nil
}

func (s *Service) UploadDocument(ctx context.Context, session Session, clientID, filename, contentType string, size int64, body io.Reader) (map[string]any, error) {
	if err := s.documentsEnabled(); err != nil {
		return nil, err
	}
	if filename == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "filename is required", nil)
	}
	if size > s.cfg.MaxUploadBytes {
		return nil, domainError(http.StatusRequestEntityTooLarge, "FILE_TOO_LARGE", "File exceeds the upload limit", map[string]any{"maxBytes": s.cfg.MaxUploadBytes})
	}
	if _, err := s.store.GetClient(ctx, clientID); err != nil {
		return nil, err
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	docID := util.NewID("doc")
	objectKey := "clients/" + clientID + "/" + docID + "/" + filename
	if err := s.blob.Put(ctx, objectKey, body, size, contentType); err != nil {
		return nil, err
	}

	doc := store.Document{
		ID:          docID,
		ClientID:    clientID,
		Filename:    filename,
		ContentType: contentType,
		SizeBytes:   size,
		ObjectKey:   objectKey,
		UploadedBy:  session.UserID,
	}
	if err := s.store.InsertDocument(ctx, doc); err != nil {
		// Orphaned object cleanup; the metadata row is what makes it visible.
		if delErr := s.blob.Delete(ctx, objectKey); delErr != nil {
			log.Printf("remove orphaned object %s: %v", objectKey, delErr)
		}
		return nil, err
	}

	s.audit(ctx, session, "document.upload", "document", docID, map[string]any{"clientId": clientID, "filename": filename})
	return documentPayload(doc), nil
}

// OpenDocument returns the metadata plus a stream over the stored bytes.
// The caller owns closing the reader.
func (s *Service) OpenDocument(ctx context.Context, documentID string) (store.Document, io.ReadCloser, error) {
	if err := s.documentsEnabled(); err != nil {
		return store.Document{}, nil, err
	}
	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return store.Document{}, nil, err
	}
	reader, err := s.blob.Get(ctx, doc.ObjectKey)
	if err != nil {
		return store.Document{}, nil, err
	}
	return doc, reader, nil
}

func (s *Service) DocumentURL(ctx context.Context, documentID string) (map[string]any, error) {
	if err := s.documentsEnabled(); err != nil {
		return nil, err
	}
	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	url, err := s.blob.PresignDownload(ctx, doc.ObjectKey, doc.Filename, 15*time.Minute)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"url":       url,
		"filename":  doc.Filename,
		"expiresIn": int((15 * time.Minute).Seconds()),
	}, nil
}

func (s *Service) DeleteDocument(ctx context.Context, session Session, documentID string) error {
	if err := s.documentsEnabled(); err != nil {
		return err
	}
	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return err
	}
	if err := s.blob.Delete(ctx, doc.ObjectKey); err != nil {
		return err
	}
	if err := s.store.DeleteDocument(ctx, documentID); err != nil {
		return err
	}
	s.audit(ctx, session, "document.delete", "document", documentID, map[string]any{"clientId": doc.ClientID, "filename": doc.Filename})
	return nil
}
