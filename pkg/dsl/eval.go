package dsl

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/rushteam/alignkit/core"
)

var (
	// celEnv 是全局的 CEL 环境，线程安全，可复用
	celEnv     *cel.Env
	celEnvOnce sync.Once
	celEnvErr  error
)

// initCELEnv 初始化 CEL 环境，定义变量
func initCELEnv() (*cel.Env, error) {
	return cel.NewEnv(
		cel.Variable("score", cel.MapType(cel.StringType, cel.DoubleType)),
		cel.Variable("label", cel.MapType(cel.StringType, cel.StringType)),
		cel.Variable("class_index", cel.IntType),
		cel.Variable("scene", cel.StringType),
		cel.Variable("frames", cel.IntType),
		cel.Variable("failed", cel.BoolType),
		cel.Variable("sample", cel.DynType),
		cel.Variable("rctx", cel.DynType),
		// 允许 score.misa > 3 这类 double 与 int 的比较
		cel.CrossTypeNumericComparisons(true),
	)
}

// getCELEnv 获取或创建 CEL 环境
func getCELEnv() (*cel.Env, error) {
	celEnvOnce.Do(func() {
		celEnv, celEnvErr = initCELEnv()
	})
	return celEnv, celEnvErr
}

// Program 是编译后的过滤表达式，可被多个 goroutine 并发求值。
//
// 表达式语法（CEL 标准语法）：
//   - 分数：score.misa > 3.0 / score.sisa >= score.sima
//   - 存在性：has(score.sisa)（样本没有对齐结果时 score 为空 map）
//   - 类别：scene == "abbey" / class_index == 0 / label.scene_display == "Living Room"
//   - 样本：sample.id.startsWith("utt") / sample.speaker == "A1" / frames >= 100
//   - 运行参数：score.misa > rctx.params.min_misa
//
// 示例：
//   - `has(score.misa) && score.misa > 3.0` → 有对齐结果且 MISA 大于 3
//   - `!failed && scene in ["abbey", "canyon"]` → 成功且类别为 abbey 或 canyon
type Program struct {
	expr string
	prg  cel.Program
}

// Compile 编译表达式。空表达式返回恒为 true 的 Program。
func Compile(expr string) (*Program, error) {
	p := &Program{expr: expr}
	if expr == "" {
		return p, nil
	}
	env, err := getCELEnv()
	if err != nil {
		return nil, fmt.Errorf("cel env: %w", err)
	}
	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile error: %w", issues.Err())
	}
	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("program error: %w", err)
	}
	p.prg = prg
	return p, nil
}

// String 返回原始表达式。
func (p *Program) String() string { return p.expr }

// Match 对一条评估结果求值。
func (p *Program) Match(ev *core.Evaluation, rctx *core.RunContext) (bool, error) {
	if p.prg == nil {
		return true, nil
	}
	out, _, err := p.prg.Eval(buildInput(ev, rctx))
	if err != nil {
		return false, fmt.Errorf("eval error: %w", err)
	}
	result, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("expression must return boolean, got %T", out.Value())
	}
	return result, nil
}

// Eval 是绑定了单条评估结果的解释器，适合一次性求值。
type Eval struct {
	ev   *core.Evaluation
	rctx *core.RunContext
}

// NewEval 创建一个新的 DSL 解释器。
func NewEval(ev *core.Evaluation, rctx *core.RunContext) *Eval {
	return &Eval{ev: ev, rctx: rctx}
}

// Evaluate 编译并执行表达式，返回布尔结果。重复使用同一表达式时应改用 Compile。
func (e *Eval) Evaluate(expr string) (bool, error) {
	p, err := Compile(expr)
	if err != nil {
		return false, err
	}
	return p.Match(e.ev, e.rctx)
}

// buildInput 构建 CEL 表达式的输入数据
func buildInput(ev *core.Evaluation, rctx *core.RunContext) map[string]any {
	score := map[string]float64{}
	labels := map[string]string{}
	classIndex := int64(-1)
	scene := ""
	sample := map[string]any{"id": "", "speaker": "", "text": "", "frames": int64(0)}
	frames := int64(0)
	failed := false

	if ev != nil {
		if a := ev.Alignment; a != nil {
			score["sisa"] = a.Score.SISA
			score["misa"] = a.Score.MISA
			score["sima"] = a.Score.SIMA
		}
		for k, v := range ev.Labels {
			labels[k] = v.Value
		}
		if s := ev.Scene; s != nil && !s.Missing {
			classIndex = int64(s.ClassIndex)
			scene = s.Label
		}
		if s := ev.Sample; s != nil {
			frames = int64(s.Frames)
			sample = map[string]any{"id": s.ID, "speaker": s.Speaker, "text": s.Text, "frames": frames}
		}
		failed = ev.Err != nil
	}

	run := map[string]any{"run_id": "", "dataset": "", "params": map[string]any{}}
	if rctx != nil {
		params := rctx.Params
		if params == nil {
			params = map[string]any{}
		}
		run = map[string]any{"run_id": rctx.RunID, "dataset": rctx.Dataset, "params": params}
	}

	return map[string]any{
		"score":       score,
		"label":       labels,
		"class_index": classIndex,
		"scene":       scene,
		"frames":      frames,
		"failed":      failed,
		"sample":      sample,
		"rctx":        run,
	}
}
