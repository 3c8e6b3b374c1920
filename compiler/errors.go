package compiler

import "github.com/pkg/errors"

// JavaError is an error that corresponds to a Java throwable class. Loading
// and finishing report their failures as JavaError values; errors.As finds
// them through any wrapping.
type JavaError interface {
	error
	JavaClass() string
}

// VerifyError reports a class that breaks a structural rule.
type VerifyError struct{ Msg string }

func (e *VerifyError) Error() string     { return "java.lang.VerifyError: " + e.Msg }
func (e *VerifyError) JavaClass() string { return "java.lang.VerifyError" }

// IncompatibleClassChangeError reports a class whose view of another class
// (interface or not) contradicts that class.
type IncompatibleClassChangeError struct{ Msg string }

func (e *IncompatibleClassChangeError) Error() string {
	return "java.lang.IncompatibleClassChangeError: " + e.Msg
}
func (e *IncompatibleClassChangeError) JavaClass() string {
	return "java.lang.IncompatibleClassChangeError"
}

// IllegalAccessError reports a reference to an inaccessible class.
type IllegalAccessError struct{ Msg string }

func (e *IllegalAccessError) Error() string     { return "java.lang.IllegalAccessError: " + e.Msg }
func (e *IllegalAccessError) JavaClass() string { return "java.lang.IllegalAccessError" }

// NoClassDefFoundError reports a class that is needed to define another one
// but could not be loaded. Msg is the missing class name.
type NoClassDefFoundError struct{ Msg string }

func (e *NoClassDefFoundError) Error() string     { return "java.lang.NoClassDefFoundError: " + e.Msg }
func (e *NoClassDefFoundError) JavaClass() string { return "java.lang.NoClassDefFoundError" }

// ClassNotFoundError reports a name that no loader can resolve.
type ClassNotFoundError struct{ Msg string }

func (e *ClassNotFoundError) Error() string     { return "java.lang.ClassNotFoundException: " + e.Msg }
func (e *ClassNotFoundError) JavaClass() string { return "java.lang.ClassNotFoundException" }

// ClassCircularityError reports a class that is its own superclass or
// superinterface.
type ClassCircularityError struct{ Msg string }

func (e *ClassCircularityError) Error() string     { return "java.lang.ClassCircularityError: " + e.Msg }
func (e *ClassCircularityError) JavaClass() string { return "java.lang.ClassCircularityError" }

// ClassFormatError reports a malformed class description.
type ClassFormatError struct{ Msg string }

func (e *ClassFormatError) Error() string     { return "java.lang.ClassFormatError: " + e.Msg }
func (e *ClassFormatError) JavaClass() string { return "java.lang.ClassFormatError" }

// LinkageError is the catch-all for linking failures without a more
// specific class.
type LinkageError struct{ Msg string }

func (e *LinkageError) Error() string     { return "java.lang.LinkageError: " + e.Msg }
func (e *LinkageError) JavaClass() string { return "java.lang.LinkageError" }

// CriticalFailure is raised when finishing a class fails. It poisons the
// class loader that owned the class: every later finish in that loader
// returns the same failure.
type CriticalFailure struct {
	Msg string
	Err error
}

func (e *CriticalFailure) Error() string {
	if e.Err == nil {
		return e.Msg
	}
	return e.Msg + ": " + e.Err.Error()
}

func (e *CriticalFailure) JavaClass() string { return "java.lang.InternalError" }
func (e *CriticalFailure) Unwrap() error     { return e.Err }
func (e *CriticalFailure) Cause() error      { return e.Err }

func criticalFailure(name string, err error) *CriticalFailure {
	var cf *CriticalFailure
	if errors.As(err, &cf) {
		return cf
	}
	return &CriticalFailure{Msg: "Exception during finishing of: " + name, Err: err}
}

// JavaClassOf returns the Java class of the first JavaError in err's chain,
// or "".
func JavaClassOf(err error) string {
	var je JavaError
	if errors.As(err, &je) {
		return je.JavaClass()
	}
	return ""
}
