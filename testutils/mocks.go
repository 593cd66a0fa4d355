package testutils

import (
	"github.com/stretchr/testify/mock"
)

type MockMailer struct {
	mock.Mock
}

func (m *MockMailer) SendLoginLink(email, url string) error {
	args := m.Called(email, url)
	return args.Error(0)
}

func (m *MockMailer) SendEmailAdditionLink(email, url string) error {
	args := m.Called(email, url)
	return args.Error(0)
}

func (m *MockMailer) SendMergeWarning(email, url, requesterName string) error {
	args := m.Called(email, url, requesterName)
	return args.Error(0)
}

func (m *MockMailer) SendRecoveryLinks(emails, urls []string) error {
	args := m.Called(emails, urls)
	return args.Error(0)
}
