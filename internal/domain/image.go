package domain

// Image описывает объект, который хранится в S3
type Image struct {
	ID        string // uuid или content hash
	Bucket    string
	ObjectKey string
	Data      []byte
	// Передайте значение -1 в Size, если размер потока неизвестен
	// (внимание: при передаче значения -1 будет выделен большой объем памяти).
	Size        *int64
	ContentType *string // Example: "image/jpeg"
}

func NewImage(id string, bucket string, objectKey string, data []byte, contentType *string) *Image {
	size := int64(len(data))
	return &Image{
		ID:          id,
		Bucket:      bucket,
		ObjectKey:   objectKey,
		Data:        data,
		Size:        &size,
		ContentType: contentType,
	}
}
