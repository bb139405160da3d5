package driver

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"syndrodm/src/helpers"

	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// CollectionFileExt is the extension of collection data files.
const CollectionFileExt = ".bnd"

// FileDriver is a MemoryDriver whose collections are persisted as one BSON
// file per collection. Files are read once at startup and rewritten after
// every mutation.
type FileDriver struct {
	*MemoryDriver
	dataDir string
}

func NewFileDriver(dataDir string, logger *zap.SugaredLogger) (*FileDriver, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory %s: %w", dataDir, err)
	}

	d := &FileDriver{
		MemoryDriver: NewMemoryDriver(logger),
		dataDir:      dataDir,
	}

	entries, err := os.ReadDir(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read data directory %s: %w", dataDir, err)
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), CollectionFileExt) {
			continue
		}
		collection := strings.TrimSuffix(e.Name(), CollectionFileExt)
		docs, err := d.loadCollectionFile(e.Name())
		if err != nil {
			return nil, err
		}
		d.Load(collection, docs)
		d.logger.Infow("loaded collection file", "collection", collection, "documents", len(docs))
	}

	d.persist = d.writeCollectionFile
	return d, nil
}

func (d *FileDriver) collectionPath(collection string) string {
	return filepath.Join(d.dataDir, collection+CollectionFileExt)
}

// loadCollectionFile memory maps a collection file and decodes its
// documents.
func (d *FileDriver) loadCollectionFile(fileName string) ([]bson.M, error) {
	file, err := helpers.OpenDataFile(d.dataDir, fileName)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", fileName, err)
	}
	size := int(stat.Size())
	if size == 0 {
		return nil, nil
	}

	data, err := unix.Mmap(int(file.Fd()), 0, size, syscall.PROT_READ, syscall.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("failed to memory map %s: %w", fileName, err)
	}
	defer unix.Munmap(data)

	// decoded values may alias their input, so decode from a private copy
	buf := make([]byte, len(data))
	copy(buf, data)
	content, err := helpers.DecodeBSON(buf)
	if err != nil {
		return nil, fmt.Errorf("error decoding collection file %s: %w", fileName, err)
	}
	helpers.NormalizeDoc(content)

	raw, _ := helpers.AsSlice(content["documents"])
	docs := make([]bson.M, 0, len(raw))
	for i, item := range raw {
		m, ok := helpers.AsMap(item)
		if !ok {
			return nil, fmt.Errorf("collection file %s: entry %d is not a document", fileName, i)
		}
		docs = append(docs, bson.M(m))
	}
	return docs, nil
}

// writeCollectionFile replaces the collection file through a temp file and
// a rename so readers never see a partial file.
func (d *FileDriver) writeCollectionFile(collection string, docs []bson.M) error {
	arr := make(bson.A, len(docs))
	for i, doc := range docs {
		arr[i] = doc
	}
	encoded, err := helpers.EncodeBSON(bson.M{"collection": collection, "documents": arr})
	if err != nil {
		return err
	}

	path := d.collectionPath(collection)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, encoded, 0644); err != nil {
		return fmt.Errorf("error writing collection file %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("error replacing collection file %s: %w", path, err)
	}
	return nil
}

// Drop removes a collection and its file.
func (d *FileDriver) Drop(collection string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.collections, collection)
	path := d.collectionPath(collection)
	if !helpers.FileExists(path, d.logger) {
		return nil
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("error removing collection file %s: %w", path, err)
	}
	return nil
}
