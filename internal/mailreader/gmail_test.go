package mailreader

import (
	"context"
	"encoding/base64"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
)

type fakeTokenResolver struct {
	token string
	ok    bool
}

func (f *fakeTokenResolver) GetGoogleAccessTokenForEmail(ctx context.Context, email string) (string, bool, error) {
	return f.token, f.ok, nil
}

type fakeListCall struct {
	resp *gmail.ListMessagesResponse
}

func (f *fakeListCall) Do(...googleapi.CallOption) (*gmail.ListMessagesResponse, error) {
	return f.resp, nil
}

type fakeGetCall struct {
	msg *gmail.Message
}

func (f *fakeGetCall) Do(...googleapi.CallOption) (*gmail.Message, error) {
	return f.msg, nil
}

type fakeGmailAPI struct {
	listResp *gmail.ListMessagesResponse
	messages map[string]*gmail.Message
}

func (f *fakeGmailAPI) UsersMessagesList(userID, q string, maxResults int64) UsersMessagesListCall {
	return &fakeListCall{resp: f.listResp}
}

func (f *fakeGmailAPI) UsersMessagesGet(userID, msgID string) UsersMessagesGetCall {
	return &fakeGetCall{msg: f.messages[msgID]}
}

func encodeBody(s string) string {
	return base64.URLEncoding.EncodeToString([]byte(s))
}

func TestReader_GetAxiomOTP_FindsCode(t *testing.T) {
	api := &fakeGmailAPI{
		listResp: &gmail.ListMessagesResponse{Messages: []*gmail.Message{{Id: "m1"}}},
		messages: map[string]*gmail.Message{
			"m1": {
				Id: "m1",
				Payload: &gmail.MessagePart{
					MimeType: "text/plain",
					Body:     &gmail.MessagePartBody{Data: encodeBody("Your Axiom security code is: 482913")},
				},
			},
		},
	}
	reader := NewReader(&oauth2.Config{}, &fakeTokenResolver{token: "tok", ok: true}, zerolog.Nop(), WithGmailAPI(api))

	code, found, err := reader.GetAxiomOTP(context.Background(), "trader@example.com")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "482913", code)
}

func TestReader_GetAxiomOTP_NoMatch(t *testing.T) {
	api := &fakeGmailAPI{
		listResp: &gmail.ListMessagesResponse{Messages: []*gmail.Message{{Id: "m1"}}},
		messages: map[string]*gmail.Message{
			"m1": {
				Id: "m1",
				Payload: &gmail.MessagePart{
					MimeType: "text/plain",
					Body:     &gmail.MessagePartBody{Data: encodeBody("Welcome to Axiom, no code here")},
				},
			},
		},
	}
	reader := NewReader(&oauth2.Config{}, &fakeTokenResolver{token: "tok", ok: true}, zerolog.Nop(), WithGmailAPI(api))

	_, found, err := reader.GetAxiomOTP(context.Background(), "trader@example.com")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestReader_GetAxiomOTP_NoTokenOnFile(t *testing.T) {
	reader := NewReader(&oauth2.Config{}, &fakeTokenResolver{ok: false}, zerolog.Nop())

	_, found, err := reader.GetAxiomOTP(context.Background(), "trader@example.com")
	require.Error(t, err)
	assert.False(t, found)
}

func TestReader_GetAxiomOTPWithin_DiscardsMessageOlderThanMaxAge(t *testing.T) {
	staleDate := time.Now().Add(-10 * time.Minute).Format(time.RFC1123Z)
	api := &fakeGmailAPI{
		listResp: &gmail.ListMessagesResponse{Messages: []*gmail.Message{{Id: "m1"}}},
		messages: map[string]*gmail.Message{
			"m1": {
				Id: "m1",
				Payload: &gmail.MessagePart{
					MimeType: "text/plain",
					Headers:  []*gmail.MessagePartHeader{{Name: "Date", Value: staleDate}},
					Body:     &gmail.MessagePartBody{Data: encodeBody("Your Axiom security code is: 482913")},
				},
			},
		},
	}
	reader := NewReader(&oauth2.Config{}, &fakeTokenResolver{token: "tok", ok: true}, zerolog.Nop(), WithGmailAPI(api))

	_, found, err := reader.GetAxiomOTPWithin(context.Background(), "trader@example.com", 60, 5)
	require.NoError(t, err)
	assert.False(t, found, "a message older than maxAgeSeconds must not be matched")
}

func TestReader_GetAxiomOTPWithin_KeepsMessageWithinMaxAge(t *testing.T) {
	freshDate := time.Now().Add(-5 * time.Second).Format(time.RFC1123Z)
	api := &fakeGmailAPI{
		listResp: &gmail.ListMessagesResponse{Messages: []*gmail.Message{{Id: "m1"}}},
		messages: map[string]*gmail.Message{
			"m1": {
				Id: "m1",
				Payload: &gmail.MessagePart{
					MimeType: "text/plain",
					Headers:  []*gmail.MessagePartHeader{{Name: "Date", Value: freshDate}},
					Body:     &gmail.MessagePartBody{Data: encodeBody("Your Axiom security code is: 482913")},
				},
			},
		},
	}
	reader := NewReader(&oauth2.Config{}, &fakeTokenResolver{token: "tok", ok: true}, zerolog.Nop(), WithGmailAPI(api))

	code, found, err := reader.GetAxiomOTPWithin(context.Background(), "trader@example.com", 60, 5)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "482913", code)
}

func TestSanitizeLogSnippet_RedactsDigitsAndTruncates(t *testing.T) {
	long := "Your Axiom security code is: 123456, keep this private. " +
		"padding padding padding padding padding padding padding padding padding padding more more more more" +
		" and enough trailing text to run past the limit"
	out := sanitizeLogSnippet(long)
	assert.NotContains(t, out, "123456")
	assert.Contains(t, out, "<redacted>")
	assert.True(t, strings.HasSuffix(out, "…"))
	// 160 kept characters, plus the ellipsis, plus 4 for "<redacted>" replacing 6 digits.
	assert.LessOrEqual(t, len([]rune(out)), 165)
}

func TestStripHTML_RemovesTags(t *testing.T) {
	out := stripHTML("<div>Your Axiom <b>security code</b> is: 123456</div>")
	assert.Equal(t, "Your Axiom security code is: 123456", out)
}
