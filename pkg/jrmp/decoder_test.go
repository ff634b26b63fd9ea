package jrmp

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rtshare "github.com/sammck-go/rmitap/share"
)

func TestDecodeRejectsWrongFraming(t *testing.T) {
	data := []byte{MsgCall, 0xac, 0xed, 0x00, 0x05}
	obj := DecodeReplyData("svc", data)
	require.Error(t, obj.ParseErr)
	assert.True(t, errors.Is(obj.ParseErr, rtshare.ErrInvalidReplyData))
	assert.Contains(t, obj.ParseErr.Error(), "0x50")
	assert.Empty(t, obj.Classes())
}

func TestDecodeRejectsBadHeader(t *testing.T) {
	obj := DecodeReplyData("svc", []byte{MsgReturnData, 0xca, 0xfe, 0x00, 0x05})
	assert.ErrorIs(t, obj.ParseErr, rtshare.ErrInvalidReplyData)

	obj = DecodeReplyData("svc", []byte{MsgReturnData, 0xac, 0xed, 0x00, 0x04})
	assert.ErrorIs(t, obj.ParseErr, rtshare.ErrInvalidReplyData)

	obj = DecodeReplyData("svc", nil)
	assert.ErrorIs(t, obj.ParseErr, rtshare.ErrInvalidReplyData)
}

func TestDecodeMinimalObject(t *testing.T) {
	data := newReplyData().
		u8(TCBlockData, 0x0f, 0x01).u8(make([]byte, 14)...).
		u8(TCObject).classDesc("com.example.Thing", 1, SCSerializable).
		u16(0).u8(TCEndBlockData).u8(TCNull).
		bytes()

	obj := DecodeReplyData("thing", data)
	require.NoError(t, obj.ParseErr)
	assert.Equal(t, "thing", obj.Name)
	assert.Equal(t, []string{"com.example.Thing"}, obj.Classes())
	assert.Empty(t, obj.StringAnnotations())
	_, ok := obj.Endpoint()
	assert.False(t, ok)
}

func remoteStub(host string, port uint32, format *byte) []byte {
	return newReplyData().
		u8(TCObject).classDesc("com.example.Svc_Stub", 2, SCSerializable).
		u16(0).u8(TCEndBlockData).
		classDesc("java.rmi.server.RemoteStub", 3, SCSerializable).
		u16(0).u8(TCEndBlockData).
		classDesc("java.rmi.server.RemoteObject", 4, SCSerializable|SCWriteMethod).
		u16(0).u8(TCEndBlockData).u8(TCNull).
		unicastRefBlock(host, port, format).u8(TCEndBlockData).
		bytes()
}

func TestDecodeUnicastRefEndpoint(t *testing.T) {
	obj := DecodeReplyData("svc", remoteStub("10.0.0.5", 4444, nil))
	require.NoError(t, obj.ParseErr)
	ep, ok := obj.Endpoint()
	require.True(t, ok)
	assert.Equal(t, rtshare.MustEndpoint("10.0.0.5", 4444), ep)
	assert.Equal(t, []string{
		"com.example.Svc_Stub",
		"java.rmi.server.RemoteStub",
		"java.rmi.server.RemoteObject",
	}, obj.Classes())
}

func TestDecodeUnicastRef2Endpoint(t *testing.T) {
	format := byte(0x01)
	obj := DecodeReplyData("svc", remoteStub("backend.internal", 50001, &format))
	require.NoError(t, obj.ParseErr)
	ep, ok := obj.Endpoint()
	require.True(t, ok)
	assert.Equal(t, "backend.internal:50001", ep.String())
}

func TestDecodeUnicastRefInvalidPort(t *testing.T) {
	obj := DecodeReplyData("svc", remoteStub("10.0.0.5", 0, nil))
	require.Error(t, obj.ParseErr)
	assert.ErrorIs(t, obj.ParseErr, rtshare.ErrInvalidReplyData)
	assert.ErrorIs(t, obj.ParseErr, rtshare.ErrInvalidPort)
	// classes read before the failure are kept
	assert.Len(t, obj.Classes(), 3)
}

func TestDecodeClassAnnotations(t *testing.T) {
	data := newReplyData().
		u8(TCObject).classDesc("com.example.Impl", 5, SCSerializable).
		u16(0).
		u8(TCString).utf("http://repo.example/lib/commons-collections-3.1.jar").
		u8(TCNull).
		u8(TCReference).u32(BaseWireHandle + 1).
		u8(TCEndBlockData).
		classDesc("com.example.Base", 6, SCSerializable).
		u16(0).u8(TCString).utf("file:/opt/app/base.jar").u8(TCEndBlockData).
		u8(TCNull).
		bytes()

	obj := DecodeReplyData("impl", data)
	require.NoError(t, obj.ParseErr)
	assert.Equal(t, []string{"http://repo.example/lib/commons-collections-3.1.jar"}, obj.ClassAnnotations("com.example.Impl"))
	assert.Equal(t, []string{"file:/opt/app/base.jar"}, obj.ClassAnnotations("com.example.Base"))
	assert.Len(t, obj.StringAnnotations(), 2)

	ed := NewEndpointDescriptor(rtshare.MustEndpoint("10.0.0.5", 1099))
	ed.AddObject(obj)
	assert.True(t, ed.HasJar("Commons-Collections-3.1.jar"))
	assert.True(t, ed.HasJar("base.jar"))
	assert.False(t, ed.HasJar("other.jar"))
	assert.False(t, ed.HasJar(""))
}

func TestDecodeProxyClassDesc(t *testing.T) {
	data := newReplyData().
		u8(TCObject).
		u8(TCProxyClassDesc).u32(2).utf("java.rmi.Remote").utf("com.example.Api").
		u8(TCString).utf("http://cb.example/api.jar").u8(TCEndBlockData).
		classDesc("java.lang.reflect.Proxy", 7, SCSerializable).
		u16(1).u8('L').utf("h").u8(TCString).utf("Ljava/lang/reflect/InvocationHandler;").
		u8(TCEndBlockData).u8(TCNull).
		// h
		u8(TCObject).classDesc("java.rmi.server.RemoteObjectInvocationHandler", 8, SCSerializable).
		u16(0).u8(TCEndBlockData).
		classDesc("java.rmi.server.RemoteObject", 4, SCSerializable|SCWriteMethod).
		u16(0).u8(TCEndBlockData).u8(TCNull).
		unicastRefBlock("192.168.1.7", 40000, nil).u8(TCEndBlockData).
		bytes()

	obj := DecodeReplyData("api", data)
	require.NoError(t, obj.ParseErr)
	// the invocation handler is nested so its classes are not recorded, but its endpoint is
	assert.Equal(t, []string{"java.rmi.Remote", "com.example.Api", "java.lang.reflect.Proxy"}, obj.Classes())
	assert.Equal(t, []string{"http://cb.example/api.jar"}, obj.ClassAnnotations("java.rmi.Remote"))
	ep, ok := obj.Endpoint()
	require.True(t, ok)
	assert.Equal(t, "192.168.1.7:40000", ep.String())
}

func TestDecodeFieldValuesAndBackReferences(t *testing.T) {
	// handles: +0 Holder desc, +1 and +2 field type strings, +3 holder object,
	// +4 "hello", +5 [B desc, +6 the array, +7 second holder
	data := newReplyData().
		u8(TCObject).classDesc("com.example.Holder", 9, SCSerializable).
		u16(6).
		u8('I').utf("count").
		u8('J').utf("stamp").
		u8('C').utf("letter").
		u8('L').utf("label").u8(TCString).utf("Ljava/lang/String;").
		u8('[').utf("data").u8(TCString).utf("[B").
		u8('L').utf("again").u8(TCReference).u32(BaseWireHandle + 1).
		u8(TCEndBlockData).u8(TCNull).
		u32(7).u64(8).u16('x').
		u8(TCString).utf("hello").
		u8(TCArray).classDesc("[B", 10, SCSerializable).u16(0).u8(TCEndBlockData).u8(TCNull).u32(3).u8(1, 2, 3).
		u8(TCReference).u32(BaseWireHandle + 4).
		// second object reuses the Holder descriptor
		u8(TCObject).u8(TCReference).u32(BaseWireHandle).
		u32(1).u64(2).u16('y').u8(TCNull).u8(TCNull).u8(TCReference).u32(BaseWireHandle + 6).
		bytes()

	obj := DecodeReplyData("holder", data)
	require.NoError(t, obj.ParseErr)
	assert.Equal(t, []string{"com.example.Holder"}, obj.Classes())
}

func TestDecodeEnumClassAndLongString(t *testing.T) {
	data := newReplyData().
		u8(TCObject).classDesc("com.example.Custom", 11, SCSerializable|SCWriteMethod).
		u16(0).u8(TCEndBlockData).u8(TCNull).
		// writeObject output
		u8(TCEnum).classDesc("com.example.Color", 0, SCSerializable|SCEnum).u16(0).u8(TCEndBlockData).
		classDesc("java.lang.Enum", 0, SCSerializable|SCEnum).u16(0).u8(TCEndBlockData).u8(TCNull).
		u8(TCString).utf("RED").
		u8(TCClass).u8(TCReference).u32(BaseWireHandle + 2).
		u8(TCLongString).u64(3).u8('a', 'b', 'c').
		u8(TCBlockData, 2, 0xde, 0xad).
		u8(TCEndBlockData).
		bytes()

	obj := DecodeReplyData("custom", data)
	require.NoError(t, obj.ParseErr)
	assert.Equal(t, []string{"com.example.Custom"}, obj.Classes())
}

func TestDecodeErrorsAreRecorded(t *testing.T) {
	cases := map[string][]byte{
		"unknown top-level tag": newReplyData().u8(TCString).utf("x").bytes(),
		"truncated class desc":  newReplyData().u8(TCObject, TCClassDesc, 0x00, 0x10, 'a').bytes(),
		"bad field type": newReplyData().u8(TCObject).classDesc("a.B", 1, SCSerializable).
			u16(1).u8('Q').utf("q").bytes(),
		"bad annotation": newReplyData().u8(TCObject).classDesc("a.B", 1, SCSerializable).
			u16(0).u8(TCObject).bytes(),
		"externalizable": newReplyData().u8(TCObject).classDesc("a.B", 1, SCExternalizable|SCBlockData).
			u16(0).u8(TCEndBlockData).u8(TCNull).bytes(),
		"dangling reference": newReplyData().u8(TCObject).u8(TCReference).u32(BaseWireHandle + 9).bytes(),
		"huge array": newReplyData().u8(TCObject).classDesc("a.B", 1, SCSerializable).
			u16(1).u8('[').utf("a").u8(TCString).utf("[J").u8(TCEndBlockData).u8(TCNull).
			u8(TCArray).classDesc("[J", 1, SCSerializable).u16(0).u8(TCEndBlockData).u8(TCNull).
			u32(0x7fffffff).bytes(),
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			obj := DecodeReplyData("x", data)
			require.Error(t, obj.ParseErr)
			var de *DecodeError
			assert.True(t, errors.As(obj.ParseErr, &de))
			assert.ErrorIs(t, obj.ParseErr, rtshare.ErrInvalidReplyData)
		})
	}
}

func TestDecodeKeepsClassesBeforeError(t *testing.T) {
	data := newReplyData().u8(TCObject).classDesc("a.Derived", 1, SCSerializable).
		u16(0).u8(TCEndBlockData).
		classDesc("a.Base", 1, SCSerializable).u16(0).u8(0x42).
		bytes()
	obj := DecodeReplyData("x", data)
	require.Error(t, obj.ParseErr)
	assert.Equal(t, []string{"a.Derived", "a.Base"}, obj.Classes())
}
