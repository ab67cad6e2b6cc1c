package engine

import (
	stderrors "errors"
	"regexp"
	"strconv"
	"strings"

	"github.com/dop251/goja"

	"github.com/wippyai/isolate-runtime/errors"
)

// ErrorInfo is the host-side form of a guest exception. Engine values never
// cross into host state; they are reduced to this structure at the bridge.
type ErrorInfo struct {
	Message      string `json:"message"`
	FileName     string `json:"fileName,omitempty"`
	LineNumber   int    `json:"lineNumber,omitempty"`
	ColumnNumber int    `json:"columnNumber,omitempty"`
}

// Error implements error.
func (e *ErrorInfo) Error() string {
	if e.FileName == "" {
		return e.Message
	}
	var b strings.Builder
	b.WriteString(e.Message)
	b.WriteString("\n    at ")
	b.WriteString(e.FileName)
	if e.LineNumber > 0 {
		b.WriteByte(':')
		b.WriteString(strconv.Itoa(e.LineNumber))
		if e.ColumnNumber > 0 {
			b.WriteByte(':')
			b.WriteString(strconv.Itoa(e.ColumnNumber))
		}
	}
	return b.String()
}

// goja renders frames as "\tat name (file:line:col(pc))" or "\tat file:line:col(pc)".
var stackFramePattern = regexp.MustCompile(`at (?:[^\s(]+ \()?(.+?):(\d+):(\d+)\(\d+\)`)

// ExceptionInfo converts an uncaught exception into an ErrorInfo, using the
// innermost script frame for the location. The message is prefixed with
// "Uncaught " as the top-level message callback reports it.
func ExceptionInfo(ex *goja.Exception) *ErrorInfo {
	info := &ErrorInfo{Message: "Uncaught " + describeValue(ex.Value())}
	for _, frame := range ex.Stack() {
		if frame.SrcName() == "<native>" {
			continue
		}
		pos := frame.Position()
		info.FileName = pos.Filename
		info.LineNumber = pos.Line
		info.ColumnNumber = pos.Column
		break
	}
	if info.FileName == "" {
		fillFromStack(info, ex.Value())
	}
	return info
}

// ValueInfo serializes an arbitrary thrown value. Location comes from the
// error's captured stack when it has one.
func ValueInfo(v goja.Value) *ErrorInfo {
	info := &ErrorInfo{Message: describeValue(v)}
	fillFromStack(info, v)
	return info
}

func fillFromStack(info *ErrorInfo, v goja.Value) {
	obj, ok := v.(*goja.Object)
	if !ok {
		return
	}
	stack := obj.Get("stack")
	if stack == nil || goja.IsUndefined(stack) || goja.IsNull(stack) {
		return
	}
	m := stackFramePattern.FindStringSubmatch(stack.String())
	if m == nil {
		return
	}
	info.FileName = m[1]
	info.LineNumber, _ = strconv.Atoi(m[2])
	info.ColumnNumber, _ = strconv.Atoi(m[3])
}

// describeValue renders "Name: message" for error objects and the string
// conversion for anything else.
func describeValue(v goja.Value) string {
	if v == nil {
		return "undefined"
	}
	if obj, ok := v.(*goja.Object); ok && IsNativeError(obj) {
		name := obj.Get("name")
		msg := obj.Get("message")
		switch {
		case msg == nil || goja.IsUndefined(msg) || msg.String() == "":
			if name != nil && !goja.IsUndefined(name) {
				return name.String()
			}
			return "Error"
		case name == nil || goja.IsUndefined(name):
			return msg.String()
		default:
			return name.String() + ": " + msg.String()
		}
	}
	return v.String()
}

// IsNativeError reports whether obj is an engine error object
// (Error, TypeError, SyntaxError, ...).
func IsNativeError(obj *goja.Object) bool {
	return obj.ClassName() == "Error"
}

// convertError maps an error returned by the engine into the host taxonomy.
// Exceptions become *ErrorInfo; interrupts become ErrTerminated.
func convertError(err error) error {
	if err == nil {
		return nil
	}
	var ex *goja.Exception
	if stderrors.As(err, &ex) {
		return ExceptionInfo(ex)
	}
	var intr *goja.InterruptedError
	if stderrors.As(err, &intr) {
		return errors.Terminated()
	}
	return err
}

var parserPositionPattern = regexp.MustCompile(`Line (\d+):(\d+)`)

// compileErrorInfo converts a compiler error for the script called name
// into an ErrorInfo. Parser errors carry their position only in the message.
func compileErrorInfo(name string, err error) *ErrorInfo {
	info := &ErrorInfo{Message: "Uncaught SyntaxError: " + err.Error(), FileName: name}
	var syn *goja.CompilerSyntaxError
	if !stderrors.As(err, &syn) {
		return info
	}
	info.Message = "Uncaught SyntaxError: " + syn.Message
	if syn.File != nil {
		pos := syn.File.Position(syn.Offset)
		info.FileName = pos.Filename
		info.LineNumber = pos.Line
		info.ColumnNumber = pos.Column
		return info
	}
	if m := parserPositionPattern.FindStringSubmatch(syn.Message); m != nil {
		info.LineNumber, _ = strconv.Atoi(m[1])
		info.ColumnNumber, _ = strconv.Atoi(m[2])
	}
	return info
}
