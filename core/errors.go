package core

import (
	"errors"
	"fmt"
)

// DomainError 是领域层的统一错误类型。
//
// 设计原则：
//   - 所有领域层错误都使用此类型
//   - 提供错误代码（Code）、消息（Message）和可选的底层错误（Err）
//   - 支持 errors.Is / errors.As，也保留 IsXXX 检查函数
//
// 使用场景：
//   - 模型加载：MODEL_LOAD（权重文件缺失、损坏、与网络结构不兼容、权重 key 无法映射）
//   - 打分：DIMENSION_MISMATCH（音频/图像嵌入维度不一致、图像通道数不对）
//   - 分类器：NO_BACKBONE（未构建骨干网络，不作为错误抛出，仅用于标记结果）
//   - Store 错误：NOT_FOUND, NOT_SUPPORTED
type DomainError struct {
	Code    string // 错误代码（如 "MODEL_LOAD", "NOT_FOUND"）
	Message string // 错误消息
	Module  string // 模块名称（如 "model", "scorer", "store"）
	Err     error  // 底层错误（可选）
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *DomainError) Unwrap() error { return e.Err }

// Is 按 Module + Code 匹配，便于 errors.Is(err, core.ErrStoreNotFound) 这类哨兵判断。
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Code == t.Code && (t.Module == "" || e.Module == t.Module)
}

// IsDomainError 检查错误是否为 DomainError 类型
func IsDomainError(err error) bool {
	return GetDomainError(err) != nil
}

// GetDomainError 获取错误链上的 DomainError，如果没有则返回 nil
func GetDomainError(err error) *DomainError {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr
	}
	return nil
}

// NewDomainError 创建新的领域错误
func NewDomainError(module, code, message string) *DomainError {
	return &DomainError{
		Module:  module,
		Code:    code,
		Message: message,
	}
}

// WrapDomainError 创建携带底层错误的领域错误
func WrapDomainError(module, code string, err error, format string, args ...any) *DomainError {
	return &DomainError{
		Module:  module,
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Err:     err,
	}
}

// 错误代码常量
const (
	// 通用错误代码
	ErrorCodeNotFound      = "NOT_FOUND"      // 资源不存在
	ErrorCodeNotSupported  = "NOT_SUPPORTED"  // 操作不支持
	ErrorCodeInvalidInput  = "INVALID_INPUT"  // 输入无效
	ErrorCodeInternalError = "INTERNAL_ERROR" // 内部错误

	// 打分相关错误代码
	ErrorCodeModelLoad         = "MODEL_LOAD"         // 权重文件缺失/损坏/结构不兼容
	ErrorCodeDimensionMismatch = "DIMENSION_MISMATCH" // 嵌入维度或通道数不一致
	ErrorCodeNoBackbone        = "NO_BACKBONE"        // 分类器没有可用的骨干网络
)

// 模块名称常量
const (
	ModuleStore      = "store"      // 存储模块
	ModuleWeights    = "weights"    // 权重文件读取
	ModuleModel      = "model"      // 网络结构与权重绑定
	ModuleScorer     = "scorer"     // 对齐打分
	ModuleClassifier = "classifier" // 场景分类
	ModuleDataset    = "dataset"    // 数据集读取
	ModuleService    = "service"    // 远程模型服务
)

// 哨兵错误，配合 errors.Is 使用（只比较 Code，Module 为空表示任意模块）。
var (
	ErrModelLoad         = &DomainError{Code: ErrorCodeModelLoad, Message: "model load failed"}
	ErrDimensionMismatch = &DomainError{Code: ErrorCodeDimensionMismatch, Message: "dimension mismatch"}
	ErrNoBackbone        = &DomainError{Code: ErrorCodeNoBackbone, Message: "classifier has no backbone"}
)

// NewModelLoadError 创建 MODEL_LOAD 错误。
func NewModelLoadError(module string, err error, format string, args ...any) *DomainError {
	return WrapDomainError(module, ErrorCodeModelLoad, err, format, args...)
}

// NewDimensionMismatchError 创建 DIMENSION_MISMATCH 错误。
func NewDimensionMismatchError(module string, format string, args ...any) *DomainError {
	return WrapDomainError(module, ErrorCodeDimensionMismatch, nil, format, args...)
}

// 通用错误检查函数

func hasCode(err error, code string) bool {
	if domainErr := GetDomainError(err); domainErr != nil {
		return domainErr.Code == code
	}
	return false
}

// IsNotFound 检查错误是否为 NOT_FOUND
func IsNotFound(err error) bool { return hasCode(err, ErrorCodeNotFound) }

// IsNotSupported 检查错误是否为 NOT_SUPPORTED
func IsNotSupported(err error) bool { return hasCode(err, ErrorCodeNotSupported) }

// IsModelLoad 检查错误是否为 MODEL_LOAD
func IsModelLoad(err error) bool { return errors.Is(err, ErrModelLoad) }

// IsDimensionMismatch 检查错误是否为 DIMENSION_MISMATCH
func IsDimensionMismatch(err error) bool { return errors.Is(err, ErrDimensionMismatch) }
