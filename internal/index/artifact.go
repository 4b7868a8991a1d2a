package index

import (
	"bufio"
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"math"
	"sort"

	"github.com/DRSN-tech/product-matcher/pkg/e"
	"github.com/klauspost/compress/zstd"
)

const (
	artifactMagic   = "PMIX"
	artifactVersion = uint16(1)
	maxStringLen    = 1 << 16
	maxDim          = 1 << 14
)

// ProductRef - сведения о товаре, которые нужны матчеру без обращения к БД.
type ProductRef struct {
	ID    string
	URL   string
	Title string
}

// Entry - вектор одного изображения каталога.
type Entry struct {
	Key         string // Ключ изображения, см. domain.ImageKey
	ProductID   string
	ContentHash string
	Vector      []float32
}

// Artifact - содержимое опубликованной версии индекса:
// векторы, соответствие изображение -> товар и версия модели.
type Artifact struct {
	ModelVersion string
	Dim          int
	Products     []ProductRef
	Entries      []Entry
}

// Canonicalize сортирует товары и записи, отбрасывает дубликаты ключей
// и записи с неподходящей размерностью.
func (a *Artifact) Canonicalize() {
	sort.SliceStable(a.Products, func(i, j int) bool { return a.Products[i].ID < a.Products[j].ID })
	products := a.Products[:0]
	for _, p := range a.Products {
		if len(products) > 0 && p.ID == products[len(products)-1].ID {
			continue
		}
		products = append(products, p)
	}
	a.Products = products

	sort.SliceStable(a.Entries, func(i, j int) bool { return a.Entries[i].Key < a.Entries[j].Key })
	entries := a.Entries[:0]
	for _, en := range a.Entries {
		if len(entries) > 0 && en.Key == entries[len(entries)-1].Key {
			continue
		}
		if a.Dim > 0 && len(en.Vector) != a.Dim {
			continue
		}
		entries = append(entries, en)
	}
	a.Entries = entries
}

// FingerprintItem - пара (ключ изображения, хэш содержимого).
type FingerprintItem struct {
	Key         string
	ContentHash string
}

// Fingerprint - sha256 от версии модели и отсортированных пар (ключ, хэш).
// Одинаковый каталог с той же моделью даёт тот же отпечаток.
func Fingerprint(modelVersion string, items []FingerprintItem) string {
	sorted := make([]FingerprintItem, len(items))
	copy(sorted, items)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Key != sorted[j].Key {
			return sorted[i].Key < sorted[j].Key
		}
		return sorted[i].ContentHash < sorted[j].ContentHash
	})

	h := sha256.New()
	h.Write([]byte(modelVersion))
	h.Write([]byte{0})
	for _, it := range sorted {
		h.Write([]byte(it.Key))
		h.Write([]byte{0})
		h.Write([]byte(it.ContentHash))
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Fingerprint артефакта.
func (a *Artifact) Fingerprint() string {
	items := make([]FingerprintItem, 0, len(a.Entries))
	for _, en := range a.Entries {
		items = append(items, FingerprintItem{Key: en.Key, ContentHash: en.ContentHash})
	}
	return Fingerprint(a.ModelVersion, items)
}

// ObjectKey - ключ артефакта в объектном хранилище.
func ObjectKey(modelVersion, fingerprint string) string {
	return fmt.Sprintf("indexes/%s/%s.pmix", modelVersion, fingerprint)
}

// Marshal кодирует артефакт в сжатый zstd бинарный формат.
// Вход канонизируется, одинаковое содержимое даёт одинаковые байты.
func Marshal(a *Artifact) ([]byte, error) {
	const op = "index.Marshal"

	a.Canonicalize()

	productOrd := make(map[string]int, len(a.Products))
	for i, p := range a.Products {
		productOrd[p.ID] = i
	}

	var raw bytes.Buffer
	w := &binWriter{w: &raw}
	w.bytes([]byte(artifactMagic))
	w.u16(artifactVersion)
	w.str(a.ModelVersion)
	w.u32(uint32(a.Dim))

	w.uvarint(uint64(len(a.Products)))
	for _, p := range a.Products {
		w.str(p.ID)
		w.str(p.URL)
		w.str(p.Title)
	}

	w.uvarint(uint64(len(a.Entries)))
	for _, en := range a.Entries {
		ord, ok := productOrd[en.ProductID]
		if !ok {
			return nil, e.Wrap(op, fmt.Errorf("entry %s references unknown product %s", en.Key, en.ProductID))
		}
		w.str(en.Key)
		w.uvarint(uint64(ord))
		w.str(en.ContentHash)
		for _, x := range en.Vector {
			w.u32(math.Float32bits(x))
		}
	}
	if w.err != nil {
		return nil, e.Wrap(op, w.err)
	}

	enc, err := zstd.NewWriter(nil, zstd.WithEncoderConcurrency(1), zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, e.Wrap(op, err)
	}
	defer enc.Close()

	return enc.EncodeAll(raw.Bytes(), nil), nil
}

// Unmarshal разбирает артефакт. Любое несоответствие формату даёт ErrCorruptArtifact.
func Unmarshal(data []byte) (*Artifact, error) {
	const op = "index.Unmarshal"

	dec, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
	if err != nil {
		return nil, e.Wrap(op, err)
	}
	defer dec.Close()

	raw, err := dec.DecodeAll(data, nil)
	if err != nil {
		return nil, e.Wrap(op, errors.Join(e.ErrCorruptArtifact, err))
	}

	r := &binReader{r: bufio.NewReader(bytes.NewReader(raw))}
	magic := r.bytes(len(artifactMagic))
	if r.err == nil && string(magic) != artifactMagic {
		return nil, e.Wrap(op, e.ErrCorruptArtifact)
	}
	if v := r.u16(); r.err == nil && v != artifactVersion {
		return nil, e.Wrap(op, fmt.Errorf("%w: unsupported format version %d", e.ErrCorruptArtifact, v))
	}

	a := &Artifact{}
	a.ModelVersion = r.str()
	a.Dim = int(r.u32())
	if r.err == nil && a.Dim > maxDim {
		return nil, e.Wrap(op, e.ErrCorruptArtifact)
	}

	nProducts := r.uvarint()
	if r.err == nil && nProducts > uint64(len(raw)) {
		return nil, e.Wrap(op, e.ErrCorruptArtifact)
	}
	a.Products = make([]ProductRef, 0, nProducts)
	for i := uint64(0); i < nProducts && r.err == nil; i++ {
		a.Products = append(a.Products, ProductRef{ID: r.str(), URL: r.str(), Title: r.str()})
	}

	nEntries := r.uvarint()
	if r.err == nil && nEntries > uint64(len(raw)) {
		return nil, e.Wrap(op, e.ErrCorruptArtifact)
	}
	a.Entries = make([]Entry, 0, nEntries)
	for i := uint64(0); i < nEntries && r.err == nil; i++ {
		en := Entry{Key: r.str()}
		ord := r.uvarint()
		en.ContentHash = r.str()
		if r.err == nil && ord >= uint64(len(a.Products)) {
			return nil, e.Wrap(op, e.ErrCorruptArtifact)
		}
		if r.err == nil {
			en.ProductID = a.Products[ord].ID
		}
		en.Vector = make([]float32, a.Dim)
		for j := range en.Vector {
			en.Vector[j] = math.Float32frombits(r.u32())
		}
		a.Entries = append(a.Entries, en)
	}

	if r.err != nil {
		return nil, e.Wrap(op, errors.Join(e.ErrCorruptArtifact, r.err))
	}
	return a, nil
}

type binWriter struct {
	w   io.Writer
	buf [binary.MaxVarintLen64]byte
	err error
}

func (b *binWriter) bytes(p []byte) {
	if b.err != nil {
		return
	}
	_, b.err = b.w.Write(p)
}

func (b *binWriter) u16(v uint16) {
	binary.LittleEndian.PutUint16(b.buf[:2], v)
	b.bytes(b.buf[:2])
}

func (b *binWriter) u32(v uint32) {
	binary.LittleEndian.PutUint32(b.buf[:4], v)
	b.bytes(b.buf[:4])
}

func (b *binWriter) uvarint(v uint64) {
	n := binary.PutUvarint(b.buf[:], v)
	b.bytes(b.buf[:n])
}

func (b *binWriter) str(s string) {
	b.uvarint(uint64(len(s)))
	b.bytes([]byte(s))
}

type binReader struct {
	r   *bufio.Reader
	err error
}

func (b *binReader) bytes(n int) []byte {
	if b.err != nil {
		return nil
	}
	p := make([]byte, n)
	_, b.err = io.ReadFull(b.r, p)
	return p
}

func (b *binReader) u16() uint16 {
	p := b.bytes(2)
	if b.err != nil {
		return 0
	}
	return binary.LittleEndian.Uint16(p)
}

func (b *binReader) u32() uint32 {
	p := b.bytes(4)
	if b.err != nil {
		return 0
	}
	return binary.LittleEndian.Uint32(p)
}

func (b *binReader) uvarint() uint64 {
	if b.err != nil {
		return 0
	}
	v, err := binary.ReadUvarint(b.r)
	b.err = err
	return v
}

func (b *binReader) str() string {
	n := b.uvarint()
	if b.err != nil {
		return ""
	}
	if n > maxStringLen {
		b.err = fmt.Errorf("string length %d exceeds limit", n)
		return ""
	}
	return string(b.bytes(int(n)))
}
