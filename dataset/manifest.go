// Package dataset 读取 PlacesAudio 风格的评估数据：samples.json 清单、图像与 wav 音频。
package dataset

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rushteam/alignkit/core"
)

// Entry 是清单中的一条样本。
type Entry struct {
	Wav     string `json:"wav"`
	Image   string `json:"image"`
	UttID   string `json:"uttid"`
	Speaker string `json:"speaker"`
	ASRText string `json:"asr_text"`
}

// ID 返回样本 ID：uttid，缺失时用 wav 文件名。
func (e Entry) ID() string {
	if e.UttID != "" {
		return e.UttID
	}
	base := filepath.Base(e.Wav)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// Manifest 是 samples.json 的内容。相对的 base path 以清单所在目录为起点。
type Manifest struct {
	ImageBasePath string  `json:"image_base_path"`
	AudioBasePath string  `json:"audio_base_path"`
	Data          []Entry `json:"data"`
}

// OpenManifest 读取并校验清单。
func OpenManifest(path string) (*Manifest, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, core.WrapDomainError(core.ModuleDataset, core.ErrorCodeNotFound, err, "read manifest")
	}
	var m Manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, core.WrapDomainError(core.ModuleDataset, core.ErrorCodeInvalidInput, err, "parse manifest %s", path)
	}
	for i, e := range m.Data {
		if e.Wav == "" || e.Image == "" {
			return nil, core.NewDomainError(core.ModuleDataset, core.ErrorCodeInvalidInput,
				fmt.Sprintf("manifest %s: entry %d needs both wav and image", path, i))
		}
	}
	dir := filepath.Dir(path)
	m.ImageBasePath = resolve(dir, m.ImageBasePath)
	m.AudioBasePath = resolve(dir, m.AudioBasePath)
	return &m, nil
}

func resolve(dir, p string) string {
	switch {
	case p == "":
		return dir
	case filepath.IsAbs(p):
		return p
	}
	return filepath.Join(dir, p)
}

// ImagePath 返回第 i 条样本的图像路径。
func (m *Manifest) ImagePath(i int) string {
	return filepath.Join(m.ImageBasePath, m.Data[i].Image)
}

// AudioPath 返回第 i 条样本的音频路径。
func (m *Manifest) AudioPath(i int) string {
	return filepath.Join(m.AudioBasePath, m.Data[i].Wav)
}

// Len 返回样本数。
func (m *Manifest) Len() int { return len(m.Data) }
