package database

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// FileStore 把每个键保存为目录下的一个文件，写入时先写临时文件再原子重命名
type FileStore struct {
	mu  sync.RWMutex
	dir string
}

func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		dir = "data"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("error occured while creating store directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (fs *FileStore) Dir() string {
	return fs.dir
}

// path 对键做十六进制编码，避免键中的 ':' 和 '/' 影响文件名
func (fs *FileStore) path(key string) string {
	return filepath.Join(fs.dir, hex.EncodeToString([]byte(key))+".json")
}

func (fs *FileStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := checkKey(key); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	data, err := os.ReadFile(fs.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("error occured while reading %s: %w", key, err)
	}
	return data, nil
}

func (fs *FileStore) Put(ctx context.Context, key string, value []byte) error {
	if err := checkKey(key); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()

	tmp, err := os.CreateTemp(fs.dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("error occured while writing %s: %w", key, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(value); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("error occured while writing %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("error occured while writing %s: %w", key, err)
	}
	if err := os.Rename(tmpName, fs.path(key)); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("error occured while writing %s: %w", key, err)
	}
	return nil
}

func (fs *FileStore) Delete(ctx context.Context, key string) error {
	if err := checkKey(key); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if err := os.Remove(fs.path(key)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("error occured while deleting %s: %w", key, err)
	}
	return nil
}
