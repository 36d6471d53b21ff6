package weights

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"sort"

	"github.com/rushteam/alignkit/tensor"
)

// maxHeaderSize 限制 safetensors JSON 头的大小，防止损坏文件导致超大分配。
const maxHeaderSize = 100 << 20

type safetensorsEntry struct {
	DType       string `json:"dtype"`
	Shape       []int  `json:"shape"`
	DataOffsets [2]int `json:"data_offsets"`
}

// ReadSafetensors 解析 safetensors 格式：8 字节小端头长度 + JSON 头 + 原始数据。
// 支持 F32、F64、F16、BF16、I64、I32 dtype，统一转换为 float32。
func ReadSafetensors(r io.Reader) (StateDict, error) {
	var n uint64
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, fmt.Errorf("safetensors: read header length: %w", err)
	}
	if n == 0 || n > maxHeaderSize {
		return nil, fmt.Errorf("safetensors: invalid header length %d", n)
	}
	header := make([]byte, n)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, fmt.Errorf("safetensors: read header: %w", err)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(header, &raw); err != nil {
		return nil, fmt.Errorf("safetensors: parse header: %w", err)
	}
	entries := make(map[string]safetensorsEntry, len(raw))
	for name, msg := range raw {
		if name == "__metadata__" {
			continue
		}
		var e safetensorsEntry
		if err := json.Unmarshal(msg, &e); err != nil {
			return nil, fmt.Errorf("safetensors: parse entry %q: %w", name, err)
		}
		entries[name] = e
	}

	body, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("safetensors: read body: %w", err)
	}

	sd := make(StateDict, len(entries))
	for name, e := range entries {
		begin, end := e.DataOffsets[0], e.DataOffsets[1]
		if begin < 0 || end < begin || end > len(body) {
			return nil, fmt.Errorf("safetensors: %q offsets [%d, %d] outside body of %d bytes", name, begin, end, len(body))
		}
		data, err := decodeDType(e.DType, body[begin:end])
		if err != nil {
			return nil, fmt.Errorf("safetensors: %q: %w", name, err)
		}
		t, err := tensor.FromData(data, e.Shape...)
		if err != nil {
			return nil, fmt.Errorf("safetensors: %q: %w", name, err)
		}
		sd[name] = t
	}
	return sd, nil
}

// WriteSafetensors 以 F32 写出 state dict，key 按字典序排列。
func WriteSafetensors(w io.Writer, sd StateDict) error {
	names := sd.Keys()
	header := make(map[string]safetensorsEntry, len(names))
	offset := 0
	for _, name := range names {
		t := sd[name]
		size := t.Len() * 4
		header[name] = safetensorsEntry{DType: "F32", Shape: t.Shape(), DataOffsets: [2]int{offset, offset + size}}
		offset += size
	}
	headerBytes, err := json.Marshal(header)
	if err != nil {
		return fmt.Errorf("safetensors: marshal header: %w", err)
	}
	// 头部按 8 字节对齐，空格填充
	for len(headerBytes)%8 != 0 {
		headerBytes = append(headerBytes, ' ')
	}
	if err := binary.Write(w, binary.LittleEndian, uint64(len(headerBytes))); err != nil {
		return err
	}
	if _, err := w.Write(headerBytes); err != nil {
		return err
	}
	buf := make([]byte, 4)
	for _, name := range names {
		for _, v := range sd[name].Data() {
			binary.LittleEndian.PutUint32(buf, math.Float32bits(v))
			if _, err := w.Write(buf); err != nil {
				return err
			}
		}
	}
	return nil
}

func decodeDType(dtype string, b []byte) ([]float32, error) {
	width := map[string]int{"F32": 4, "F64": 8, "F16": 2, "BF16": 2, "I64": 8, "I32": 4}[dtype]
	if width == 0 {
		return nil, fmt.Errorf("unsupported dtype %s", dtype)
	}
	if len(b)%width != 0 {
		return nil, fmt.Errorf("byte length %d not a multiple of %s width", len(b), dtype)
	}
	out := make([]float32, len(b)/width)
	for i := range out {
		chunk := b[i*width : (i+1)*width]
		switch dtype {
		case "F32":
			out[i] = math.Float32frombits(binary.LittleEndian.Uint32(chunk))
		case "F64":
			out[i] = float32(math.Float64frombits(binary.LittleEndian.Uint64(chunk)))
		case "F16":
			out[i] = halfToFloat(binary.LittleEndian.Uint16(chunk))
		case "BF16":
			out[i] = math.Float32frombits(uint32(binary.LittleEndian.Uint16(chunk)) << 16)
		case "I64":
			out[i] = float32(int64(binary.LittleEndian.Uint64(chunk)))
		case "I32":
			out[i] = float32(int32(binary.LittleEndian.Uint32(chunk)))
		}
	}
	return out, nil
}

// halfToFloat 把 IEEE 754 半精度转换为 float32。
func halfToFloat(h uint16) float32 {
	sign := uint32(h>>15) << 31
	exp := uint32(h>>10) & 0x1f
	frac := uint32(h) & 0x3ff
	switch {
	case exp == 0 && frac == 0:
		return math.Float32frombits(sign)
	case exp == 0:
		// 非规格化数：左移到隐含位出现
		shift := uint32(0)
		for frac&0x400 == 0 {
			frac <<= 1
			shift++
		}
		frac &= 0x3ff
		return math.Float32frombits(sign | (113-shift)<<23 | frac<<13)
	case exp == 0x1f:
		return math.Float32frombits(sign | 0x7f800000 | frac<<13)
	}
	return math.Float32frombits(sign | (exp+112)<<23 | frac<<13)
}

// Keys 返回排序后的 key。
func (sd StateDict) Keys() []string {
	keys := make([]string, 0, len(sd))
	for k := range sd {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
