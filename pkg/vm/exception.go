package vm

import "fmt"

// JavaException represents a JVM exception being thrown.
type JavaException struct {
	Object  *JObject
	Message string
}

func (e *JavaException) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("JavaException: %s", e.Object.ClassName)
	}
	return fmt.Sprintf("JavaException: %s: %s", e.Object.ClassName, e.Message)
}

// ClassName returns the exception's class name.
func (e *JavaException) ClassName() string {
	return e.Object.ClassName
}

func NewJavaException(className string) *JavaException {
	return &JavaException{
		Object: &JObject{
			ClassName: className,
			Fields:    make(map[string]Value),
		},
	}
}

// newJavaExceptionf creates an exception with a formatted detail message.
func newJavaExceptionf(className, format string, args ...interface{}) *JavaException {
	e := NewJavaException(className)
	e.Message = fmt.Sprintf(format, args...)
	return e
}
