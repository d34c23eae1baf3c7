package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
)

// MaxAttachmentSize bounds a single upload.
const MaxAttachmentSize = 25 * 1024 * 1024

var (
	ErrTooLarge = errors.New("storage: attachment too large")
	ErrEmpty    = errors.New("storage: empty payload")
	ErrNoObject = errors.New("storage: object not found")
)

// Client stores attachment payloads addressed by key. The database keeps
// only the key plus filename/content-type metadata.
type Client interface {
	Put(ctx context.Context, key, contentType string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, string, error)
	Delete(ctx context.Context, key string) error
}

// AttachmentKey is the bucket layout for message attachments.
func AttachmentKey(messageID, attachmentID string) string {
	return fmt.Sprintf("attachments/%s/%s", messageID, attachmentID)
}

func validatePayload(data []byte) error {
	if len(data) == 0 {
		return ErrEmpty
	}
	if len(data) > MaxAttachmentSize {
		return fmt.Errorf("%w: %d bytes", ErrTooLarge, len(data))
	}
	return nil
}

// Memory is an in-process Client for tests and bucketless local runs.
type Memory struct {
	mu      sync.RWMutex
	objects map[string]memObject
}

type memObject struct {
	contentType string
	data        []byte
}

func NewMemory() *Memory {
	return &Memory{objects: make(map[string]memObject)}
}

func (m *Memory) Put(_ context.Context, key, contentType string, data []byte) error {
	if err := validatePayload(data); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = memObject{contentType: contentType, data: append([]byte(nil), data...)}
	return nil
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[key]
	if !ok {
		return nil, "", ErrNoObject
	}
	return append([]byte(nil), obj.data...), obj.contentType, nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

// ReadLimited drains r into memory, refusing with ErrTooLarge once the
// attachment cap is passed. Upload handlers must use this instead of a
// plain io.ReadAll so an oversized body never buffers fully.
func ReadLimited(r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, MaxAttachmentSize+1))
	if err != nil {
		return nil, err
	}
	if len(data) > MaxAttachmentSize {
		return nil, ErrTooLarge
	}
	return data, nil
}
