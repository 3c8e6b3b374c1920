package compiler

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefineErrors(t *testing.T) {
	fx := loadFixture(t, "errors", Options{})
	tests := []struct {
		class string
		java  string
		msg   string
	}{
		{"demo.SuperIsInterface", "java.lang.IncompatibleClassChangeError", "Class demo.SuperIsInterface has interface demo.Iface as superclass"},
		{"demo.SuperNotVisible", "java.lang.IllegalAccessError", "Class demo.SuperNotVisible cannot access its superclass lib.Hidden"},
		{"demo.SuperIsFinal", "java.lang.VerifyError", "Cannot inherit from final class demo.Sealed"},
		{"demo.ImplementsClass", "java.lang.IncompatibleClassChangeError", "Implementing class demo.Sealed in demo.ImplementsClass"},
		{"demo.InterfaceNotVisible", "java.lang.IllegalAccessError", "Class demo.InterfaceNotVisible cannot access its superinterface lib.HiddenIface"},
		{"demo.OverridesFinal", "java.lang.VerifyError", "final method m()V in demo.Base is overriden in demo.OverridesFinal"},
		{"demo.MissingSuper", "java.lang.NoClassDefFoundError", "demo.Nowhere"},
		{"demo.Loop1", "java.lang.ClassCircularityError", "demo.Loop1"},
		{"demo.FinalInterface", "java.lang.ClassFormatError", "demo.FinalInterface: interface is final"},
		{"demo.NotThere", "java.lang.ClassNotFoundException", "demo.NotThere"},
	}
	for _, tt := range tests {
		t.Run(tt.class, func(t *testing.T) {
			_, err := fx.app.LoadClass(tt.class)
			require.Error(t, err)
			var je JavaError
			require.True(t, errors.As(err, &je), "%v", err)
			assert.Equal(t, tt.java, je.JavaClass())
			assert.Equal(t, tt.java+": "+tt.msg, je.Error())
		})
	}
	assert.NoError(t, fx.app.Failed(), "define errors do not poison the loader")
}

func TestTypedDefineErrors(t *testing.T) {
	fx := loadFixture(t, "errors", Options{})
	_, err := fx.app.LoadClass("demo.SuperIsFinal")
	var ve *VerifyError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, "Cannot inherit from final class demo.Sealed", ve.Msg)

	_, err = fx.app.LoadClass("demo.MissingSuper")
	var ncdfe *NoClassDefFoundError
	assert.True(t, errors.As(err, &ncdfe))
	assert.Equal(t, "java.lang.NoClassDefFoundError", JavaClassOf(errors.Wrap(err, "context")))
}

func TestDuplicateDefinition(t *testing.T) {
	fx := loadFixture(t, "errors", Options{})
	tw, err := fx.app.LoadClass("demo.Iface")
	require.NoError(t, err)
	again, err := fx.app.LoadClass("demo.Iface")
	require.NoError(t, err)
	assert.Same(t, tw, again)

	_, err = fx.app.DefineClass(fx.src["demo.Iface"])
	var le *LinkageError
	require.True(t, errors.As(err, &le))
	assert.Equal(t, "duplicate class definition: demo.Iface", le.Msg)
}

func TestWrongName(t *testing.T) {
	fx := loadFixture(t, "errors", Options{})
	fx.src["demo.Alias"] = fx.src["demo.Iface"]
	_, err := fx.app.LoadClass("demo.Alias")
	var ncdfe *NoClassDefFoundError
	require.True(t, errors.As(err, &ncdfe))
	assert.Equal(t, "demo.Alias (wrong name: demo.Iface)", ncdfe.Msg)
}

func TestParentDelegation(t *testing.T) {
	fx := loadFixture(t, "errors", Options{})
	hidden, err := fx.app.LoadClass("lib.Hidden")
	require.NoError(t, err)
	assert.Same(t, fx.lib, hidden.ClassLoader())

	obj, err := fx.app.LoadClass("java.lang.Object")
	require.NoError(t, err)
	assert.Equal(t, KindRemapped, obj.Kind())
	assert.Same(t, fx.rt.Bootstrap(), obj.ClassLoader())
}

func TestFinishFailurePoisonsLoader(t *testing.T) {
	fx := loadFixture(t, "errors", Options{})
	bad, err := fx.app.LoadClass("demo.BadAsm")
	require.NoError(t, err)

	err = bad.Finish()
	var cf *CriticalFailure
	require.True(t, errors.As(err, &cf), "%v", err)
	assert.Equal(t, "Exception during finishing of: demo.BadAsm", cf.Msg)
	var format *ClassFormatError
	assert.True(t, errors.As(err, &format))
	assert.Equal(t, "java.lang.InternalError", cf.JavaClass())

	assert.Same(t, cf, fx.app.Failed())
	assert.Same(t, cf, bad.Finish())
	_, err = fx.app.LoadClass("demo.AfterFailure")
	assert.Same(t, cf, err)
	assert.Same(t, cf, fx.rt.Finish())

	// Other loaders are unaffected.
	assert.NoError(t, fx.lib.Failed())
}
