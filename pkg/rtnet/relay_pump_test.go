package rtnet

import (
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sammck-go/rmitap/pkg/jrmp"
	rtshare "github.com/sammck-go/rmitap/share"
)

type hookRecorder struct {
	PassThrough
	calls  int
	forced bool
}

func (h *hookRecorder) HandleShutdown(force bool) {
	h.calls++
	h.forced = force
}

func TestRelayPumpTransformsAndHalfCloses(t *testing.T) {
	logger, _ := testLogger()
	clientSide, pumpSrc := connPair(t)
	pumpDst, targetSide := connPair(t)

	p := NewRelayPump(logger, testOptions(), "outbound", pumpSrc, pumpDst,
		&MarkerSubstitution{Marker: []byte("AA"), Payload: []byte("Z")})
	p.Start()

	_, err := clientSide.Write([]byte("xxAAAAyy"))
	require.NoError(t, err)
	_, err = rtshare.CloseWriteIfPossible(clientSide)
	require.NoError(t, err)

	targetSide.SetReadDeadline(time.Now().Add(2 * time.Second))
	got, err := io.ReadAll(targetSide)
	require.NoError(t, err)
	assert.Equal(t, "xxZZyy", string(got))

	select {
	case <-p.LoopDoneChan():
	case <-time.After(2 * time.Second):
		t.Fatal("relay loop did not end at EOF")
	}
	require.NoError(t, p.Shutdown(false, nil))
	in, out := p.BytesRelayed()
	assert.Equal(t, int64(8), in)
	assert.Equal(t, int64(6), out)
}

func TestRelayPumpForcedShutdownIsPrompt(t *testing.T) {
	logger, _ := testLogger()
	opts := testOptions()
	opts.PumpJoinTimeout = time.Minute
	_, pumpSrc := connPair(t)
	pumpDst, targetSide := connPair(t)
	hook := &hookRecorder{}

	p := NewRelayPump(logger, opts, "inbound", pumpSrc, pumpDst, hook)
	p.Start()

	start := time.Now()
	require.NoError(t, p.Shutdown(true, nil))
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, 1, hook.calls)
	assert.True(t, hook.forced)

	// both conns are closed, so the far side sees end of stream
	targetSide.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, err := targetSide.Read(make([]byte, 1))
	assert.ErrorIs(t, err, io.EOF)
}

func TestRelayPumpShutdownWithoutStart(t *testing.T) {
	logger, _ := testLogger()
	_, src := connPair(t)
	dst, _ := connPair(t)
	p := NewRelayPump(logger, testOptions(), "idle", src, dst, nil)
	assert.IsType(t, PassThrough{}, p.Transform())
	require.NoError(t, p.Shutdown(false, nil))
}

func TestRelayPumpLogsHandshake(t *testing.T) {
	logger, logs := testLogger()
	clientSide, pumpSrc := connPair(t)
	pumpDst, targetSide := connPair(t)
	p := NewRelayPump(logger, testOptions(), "outbound", pumpSrc, pumpDst, PassThrough{})
	p.Start()
	defer p.Shutdown(true, nil)

	hs := []byte{'J', 'R', 'M', 'I', 0x00, 0x02, jrmp.ProtocolStream}
	_, err := clientSide.Write(hs)
	require.NoError(t, err)
	targetSide.SetReadDeadline(time.Now().Add(2 * time.Second))
	got := make([]byte, len(hs))
	_, err = io.ReadFull(targetSide, got)
	require.NoError(t, err)
	assert.Equal(t, hs, got)
	assert.Eventually(t, func() bool {
		return logs.FilterMessageSnippet("JRMI handshake").Len() == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSessionEndsWhenBothDirectionsClose(t *testing.T) {
	logger, _ := testLogger()
	clientSide, client := connPair(t)
	target, targetSide := connPair(t)

	s := NewProxySession(logger, testOptions(), client, target, PassThrough{}, PassThrough{})
	s.Start()
	assert.Len(t, s.ID(), 8)

	_, err := clientSide.Write([]byte("ping"))
	require.NoError(t, err)
	assert.Equal(t, []byte("ping"), readN(t, targetSide, 4))
	_, err = targetSide.Write([]byte("pong"))
	require.NoError(t, err)
	assert.Equal(t, []byte("pong"), readN(t, clientSide, 4))

	rtshare.CloseWriteIfPossible(clientSide)
	rtshare.CloseWriteIfPossible(targetSide)

	select {
	case <-s.ShutdownDoneChan():
	case <-time.After(3 * time.Second):
		t.Fatal("session did not shut down after both directions ended")
	}
	assert.True(t, s.Outbound().IsDoneShutdown())
	assert.True(t, s.Inbound().IsDoneShutdown())
}
