package weights

import (
	"archive/zip"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/rushteam/alignkit/tensor"
)

var npyMagic = []byte("\x93NUMPY")

var (
	npyDescrRe   = regexp.MustCompile(`'descr':\s*'([^']*)'`)
	npyFortranRe = regexp.MustCompile(`'fortran_order':\s*(True|False)`)
	npyShapeRe   = regexp.MustCompile(`'shape':\s*\(([^)]*)\)`)
)

// ReadNpy 解析单个 .npy 数组（v1/v2/v3 头），支持小端 f4/f8/i4/i8。
func ReadNpy(r io.Reader) (*tensor.Tensor, error) {
	prefix := make([]byte, 8)
	if _, err := io.ReadFull(r, prefix); err != nil {
		return nil, fmt.Errorf("npy: read magic: %w", err)
	}
	if !bytes.Equal(prefix[:6], npyMagic) {
		return nil, fmt.Errorf("npy: bad magic %q", prefix[:6])
	}
	var headerLen int
	switch prefix[6] {
	case 1:
		var n uint16
		if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
			return nil, fmt.Errorf("npy: read header length: %w", err)
		}
		headerLen = int(n)
	case 2, 3:
		var n uint32
		if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
			return nil, fmt.Errorf("npy: read header length: %w", err)
		}
		headerLen = int(n)
	default:
		return nil, fmt.Errorf("npy: unsupported version %d", prefix[6])
	}
	header := make([]byte, headerLen)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, fmt.Errorf("npy: read header: %w", err)
	}

	descr, shape, err := parseNpyHeader(string(header))
	if err != nil {
		return nil, err
	}
	var dtype string
	switch descr {
	case "<f4", "|f4":
		dtype = "F32"
	case "<f8", "|f8":
		dtype = "F64"
	case "<i4":
		dtype = "I32"
	case "<i8":
		dtype = "I64"
	default:
		return nil, fmt.Errorf("npy: unsupported dtype %s", descr)
	}
	body, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("npy: read data: %w", err)
	}
	data, err := decodeDType(dtype, body)
	if err != nil {
		return nil, fmt.Errorf("npy: %w", err)
	}
	return tensor.FromData(data, shape...)
}

func parseNpyHeader(h string) (string, []int, error) {
	m := npyDescrRe.FindStringSubmatch(h)
	if m == nil {
		return "", nil, fmt.Errorf("npy: header without descr: %q", h)
	}
	descr := m[1]
	if f := npyFortranRe.FindStringSubmatch(h); f != nil && f[1] == "True" {
		return "", nil, fmt.Errorf("npy: fortran-ordered arrays are not supported")
	}
	s := npyShapeRe.FindStringSubmatch(h)
	if s == nil {
		return "", nil, fmt.Errorf("npy: header without shape: %q", h)
	}
	var shape []int
	for _, part := range strings.Split(s[1], ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		d, err := strconv.Atoi(part)
		if err != nil {
			return "", nil, fmt.Errorf("npy: bad shape %q: %w", s[1], err)
		}
		shape = append(shape, d)
	}
	return descr, shape, nil
}

// WriteNpy 以 v1.0 格式、<f4 dtype 写出张量。
func WriteNpy(w io.Writer, t *tensor.Tensor) error {
	dims := make([]string, t.NDim())
	for i, d := range t.Shape() {
		dims[i] = strconv.Itoa(d)
	}
	shape := strings.Join(dims, ", ")
	if t.NDim() == 1 {
		shape += ","
	}
	header := fmt.Sprintf("{'descr': '<f4', 'fortran_order': False, 'shape': (%s), }", shape)
	// magic(6) + version(2) + len(2) + header + '\n' 按 64 字节对齐
	pad := 64 - (10+len(header)+1)%64
	if pad == 64 {
		pad = 0
	}
	header += strings.Repeat(" ", pad) + "\n"

	if _, err := w.Write([]byte("\x93NUMPY\x01\x00")); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint16(len(header))); err != nil {
		return err
	}
	if _, err := io.WriteString(w, header); err != nil {
		return err
	}
	buf := make([]byte, 4)
	for _, v := range t.Data() {
		binary.LittleEndian.PutUint32(buf, math.Float32bits(v))
		if _, err := w.Write(buf); err != nil {
			return err
		}
	}
	return nil
}

// ReadNpz 读取 .npz（zip 中每个成员是一个 .npy），key 为去掉 .npy 后缀的成员名。
func ReadNpz(r io.ReaderAt, size int64) (StateDict, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return nil, fmt.Errorf("npz: %w", err)
	}
	sd := make(StateDict, len(zr.File))
	for _, f := range zr.File {
		name := strings.TrimSuffix(f.Name, ".npy")
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("npz: open %s: %w", f.Name, err)
		}
		t, err := ReadNpy(rc)
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("npz: %s: %w", f.Name, err)
		}
		sd[name] = t
	}
	return sd, nil
}

// WriteNpz 把 state dict 写成 .npz。
func WriteNpz(w io.Writer, sd StateDict) error {
	zw := zip.NewWriter(w)
	for _, name := range sd.Keys() {
		fw, err := zw.Create(name + ".npy")
		if err != nil {
			return err
		}
		if err := WriteNpy(fw, sd[name]); err != nil {
			return err
		}
	}
	return zw.Close()
}
