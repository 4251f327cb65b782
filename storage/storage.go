package storage

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/gofrs/uuid"
	"github.com/pkg/errors"
)

// Store writes named byte streams under a single root directory and
// hands back the stored name for later retrieval over the files route.
type Store struct {
	Root string
}

func New(root string) (Store, error) {
	err := os.MkdirAll(root, 0o755)
	if err != nil {
		return Store{}, errors.Wrap(err, "storage.mkdir")
	}
	return Store{Root: root}, nil
}

// Save writes data under the given name. The whole payload is handed
// over at once so a failed render never leaves a partial file behind.
func (s Store) Save(name string, data []byte) (string, error) {
	name = filepath.Base(name)
	err := os.WriteFile(filepath.Join(s.Root, name), data, 0o644)
	if err != nil {
		return "", errors.Wrap(err, "storage.write")
	}
	return name, nil
}

// Remove deletes a stored file. Callers use it to undo a Save when a
// later step of the same operation fails.
func (s Store) Remove(name string) error {
	err := os.Remove(filepath.Join(s.Root, filepath.Base(name)))
	if err != nil {
		return errors.Wrap(err, "storage.remove")
	}
	return nil
}

// SaveUpload stores an uploaded stream under a fresh unique name,
// keeping the original extension.
func (s Store) SaveUpload(original string, r io.Reader) (string, error) {
	id, err := uuid.NewV4()
	if err != nil {
		return "", errors.Wrap(err, "storage.uuid")
	}
	name := id.String() + strings.ToLower(filepath.Ext(original))

	f, err := os.Create(filepath.Join(s.Root, name))
	if err != nil {
		return "", errors.Wrap(err, "storage.create")
	}
	defer f.Close()

	_, err = io.Copy(f, r)
	if err != nil {
		os.Remove(f.Name())
		return "", errors.Wrap(err, "storage.copy")
	}
	return name, nil
}
