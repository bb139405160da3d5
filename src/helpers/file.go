package helpers

import (
	"fmt"
	"os"
	"path/filepath"

	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/zap"
)

func OpenDataFile(dataDirectory, fileName string) (*os.File, error) {
	filePath := filepath.Join(dataDirectory, fileName)
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("error opening data file %s: %w", fileName, err)
	}
	return file, nil
}

// FileExists checks if a file exists and is not a directory
func FileExists(filename string, logger *zap.SugaredLogger) bool {
	info, err := os.Stat(filename)
	if err != nil {
		if os.IsNotExist(err) {
			if logger != nil {
				logger.Debugf("File does not exist: %s", filename)
			}
			return false
		}
		if logger != nil {
			logger.Warnf("Error checking file %s for existence: %s", filename, err)
		}
		return false
	}

	return !info.IsDir()
}

func EncodeBSON(data bson.M) ([]byte, error) {
	bsonData, err := bson.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("error encoding BSON: %w", err)
	}
	return bsonData, nil
}

func DecodeBSON(bsonData []byte) (bson.M, error) {
	var decodedData bson.M
	if err := bson.Unmarshal(bsonData, &decodedData); err != nil {
		return nil, fmt.Errorf("error decoding BSON: %w", err)
	}
	return decodedData, nil
}
