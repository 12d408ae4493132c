package user

import (
	"context"

	"github.com/sggenna/fluency/core"
)

type serviceMock struct {
	service
}

// NewServiceMock returns a ServiceInterface whose mails are sent synchronously.
func NewServiceMock(conf *core.Config, repo Repository, mailSvc core.EmailService) ServiceInterface {
	secretKey = []byte(conf.SecretKey)
	passwordResetTimeoutDelta = conf.PasswordResetTimeoutDelta
	return &serviceMock{
		service: service{
			conf:    conf,
			repo:    repo,
			mailSvc: mailSvc,
		},
	}
}

func (svc *serviceMock) RequestPasswordReset(ctx context.Context, email string) error {
	usr, err := svc.GetByEmail(ctx, email)
	if err != nil {
		return err
	}
	// run synchronously
	svc.sendPasswordResetMail(usr)
	return nil
}
