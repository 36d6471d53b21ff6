package utils

// Label 是评估结果上的可追踪标注，例如预测类别、过滤命中的规则。
// Source 记录写入方：scorer / classifier / filter / rule ...
type Label struct {
	Value  string `json:"value"`
	Source string `json:"source"`
}

// MergeLabel 合并同名 Label，保留历史：
// - Value: 以 '|' 累积
// - Source: 以 ',' 累积
func MergeLabel(existing Label, incoming Label) Label {
	if existing.Value == "" {
		return incoming
	}
	if incoming.Value == "" {
		return existing
	}

	merged := existing
	merged.Value = existing.Value + "|" + incoming.Value
	switch {
	case existing.Source == "":
		merged.Source = incoming.Source
	case incoming.Source == "":
		merged.Source = existing.Source
	case existing.Source == incoming.Source:
	default:
		merged.Source = existing.Source + "," + incoming.Source
	}
	return merged
}

// LabelValues 按写入顺序拆出累积的 Value。
func LabelValues(l Label) []string {
	if l.Value == "" {
		return nil
	}
	var out []string
	start := 0
	for i := 0; i < len(l.Value); i++ {
		if l.Value[i] == '|' {
			out = append(out, l.Value[start:i])
			start = i + 1
		}
	}
	return append(out, l.Value[start:])
}
