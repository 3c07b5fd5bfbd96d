package services

import (
	"context"
	"errors"
	"testing"

	"meshcall/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestSession(t *testing.T, role domain.SessionRole) (*PeerSession, *fakeTransport, *[]domain.SignalPayload, sendFunc) {
	t.Helper()

	transport := &fakeTransport{id: "peer-1"}
	sess := NewPeerSession("peer-1", "Alice", role, transport, zaptest.NewLogger(t).Sugar())

	var sent []domain.SignalPayload
	send := func(p *domain.SignalPayload) error {
		sent = append(sent, *p)
		return nil
	}
	return sess, transport, &sent, send
}

func TestPeerSession_InitiatorFlow(t *testing.T) {
	sess, transport, sent, send := newTestSession(t, domain.RoleInitiator)

	require.NoError(t, sess.BeginNegotiation(context.Background(), send))
	assert.Equal(t, domain.SessionNegotiating, sess.State())
	require.Len(t, *sent, 1)
	assert.Equal(t, domain.SignalOffer, (*sent)[0].Type)
	assert.NotNil(t, (*sent)[0].Description)

	require.NoError(t, sess.HandleAnswer(*answerFrom("peer-1")))
	assert.Equal(t, domain.SessionConnected, sess.State())
	require.Len(t, transport.remoteDescs, 1)
}

func TestPeerSession_ResponderFlow(t *testing.T) {
	sess, transport, sent, send := newTestSession(t, domain.RoleResponder)

	require.NoError(t, sess.HandleOffer(context.Background(), *offerFrom("peer-1"), send))
	assert.Equal(t, domain.SessionConnected, sess.State())

	require.Len(t, *sent, 1)
	assert.Equal(t, domain.SignalAnswer, (*sent)[0].Type)
	assert.Equal(t, 1, transport.answersCreated)
}

func TestPeerSession_BuffersCandidatesUntilRemoteDescription(t *testing.T) {
	sess, transport, _, send := newTestSession(t, domain.RoleResponder)

	first := *candidate(1)
	second := *candidate(2)
	third := *candidate(3)

	require.NoError(t, sess.HandleCandidate(first))
	require.NoError(t, sess.HandleCandidate(second))
	assert.Empty(t, transport.candidates, "candidates must not reach the transport before the remote description")

	require.NoError(t, sess.HandleOffer(context.Background(), *offerFrom("peer-1"), send))

	// Buffered candidates flushed in arrival order.
	require.Len(t, transport.candidates, 2)
	assert.Equal(t, first.Candidate, transport.candidates[0].Candidate)
	assert.Equal(t, second.Candidate, transport.candidates[1].Candidate)

	// Later candidates bypass the buffer.
	require.NoError(t, sess.HandleCandidate(third))
	require.Len(t, transport.candidates, 3)
	assert.Equal(t, third.Candidate, transport.candidates[2].Candidate)
}

func TestPeerSession_InitiatorBuffersCandidatesBeforeAnswer(t *testing.T) {
	sess, transport, _, send := newTestSession(t, domain.RoleInitiator)

	require.NoError(t, sess.BeginNegotiation(context.Background(), send))
	require.NoError(t, sess.HandleCandidate(*candidate(1)))
	assert.Empty(t, transport.candidates)

	require.NoError(t, sess.HandleAnswer(*answerFrom("peer-1")))
	require.Len(t, transport.candidates, 1)
}

func TestPeerSession_DuplicateOfferIgnoredWhenConnected(t *testing.T) {
	sess, transport, sent, send := newTestSession(t, domain.RoleResponder)

	require.NoError(t, sess.HandleOffer(context.Background(), *offerFrom("peer-1"), send))
	require.NoError(t, sess.HandleOffer(context.Background(), *offerFrom("peer-1"), send))

	assert.Len(t, *sent, 1, "duplicate offer must not produce a second answer")
	assert.Len(t, transport.remoteDescs, 1)
	assert.Equal(t, domain.SessionConnected, sess.State())
}

func TestPeerSession_DuplicateAnswerIgnoredWhenConnected(t *testing.T) {
	sess, transport, _, send := newTestSession(t, domain.RoleInitiator)

	require.NoError(t, sess.BeginNegotiation(context.Background(), send))
	require.NoError(t, sess.HandleAnswer(*answerFrom("peer-1")))
	require.NoError(t, sess.HandleAnswer(*answerFrom("peer-1")))

	assert.Len(t, transport.remoteDescs, 1)
	assert.Equal(t, domain.SessionConnected, sess.State())
}

func TestPeerSession_ClosedIsTerminal(t *testing.T) {
	sess, transport, _, send := newTestSession(t, domain.RoleInitiator)

	sess.Close()
	assert.True(t, transport.closed)
	assert.Equal(t, domain.SessionClosed, sess.State())

	assert.ErrorIs(t, sess.BeginNegotiation(context.Background(), send), domain.ErrSessionClosed)
	assert.ErrorIs(t, sess.HandleOffer(context.Background(), *offerFrom("peer-1"), send), domain.ErrSessionClosed)
	assert.ErrorIs(t, sess.HandleAnswer(*answerFrom("peer-1")), domain.ErrSessionClosed)
	assert.ErrorIs(t, sess.HandleCandidate(*candidate(1)), domain.ErrSessionClosed)

	// Idempotent.
	sess.Close()
	assert.Equal(t, domain.SessionClosed, sess.State())
}

func TestPeerSession_OfferFailurePropagates(t *testing.T) {
	sess, transport, _, send := newTestSession(t, domain.RoleInitiator)
	transport.offerErr = errors.New("sdp generation failed")

	err := sess.BeginNegotiation(context.Background(), send)
	require.Error(t, err)
	assert.Equal(t, domain.SessionCreated, sess.State())
}

func TestPeerSession_SetNameKeepsState(t *testing.T) {
	sess, _, _, send := newTestSession(t, domain.RoleResponder)

	require.NoError(t, sess.HandleOffer(context.Background(), *offerFrom("peer-1"), send))
	sess.SetName("Alice Cooper")

	assert.Equal(t, "Alice Cooper", sess.Name())
	assert.Equal(t, domain.SessionConnected, sess.State())
}
