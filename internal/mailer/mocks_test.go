package mailer

import (
	"context"
	"sync"

	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/stretchr/testify/mock"
)

type MockSESClient struct {
	mock.Mock
}

func (m *MockSESClient) GetAccount(ctx context.Context, input *sesv2.GetAccountInput, opts ...func(*sesv2.Options)) (*sesv2.GetAccountOutput, error) {
	args := m.Called(ctx, input, opts)
	return args.Get(0).(*sesv2.GetAccountOutput), args.Error(1)
}

func (m *MockSESClient) SendEmail(ctx context.Context, input *sesv2.SendEmailInput, opts ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
	args := m.Called(ctx, input, opts)
	return args.Get(0).(*sesv2.SendEmailOutput), args.Error(1)
}

// fakeTransport accepts one password and records what it sent.
type fakeTransport struct {
	password string
	accept   string

	mu   sync.Mutex
	sent []Message
}

func (f *fakeTransport) Verify(context.Context) error {
	if f.password != f.accept {
		return errBadPassword
	}
	return nil
}

func (f *fakeTransport) Send(_ context.Context, msg Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, msg)
	return nil
}
