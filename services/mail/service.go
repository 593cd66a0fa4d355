package mail

import (
	"bytes"
	"fmt"
	htmlTemplate "html/template"
	"path/filepath"
	textTemplate "text/template"

	"github.com/lanternhq/lantern/config"
	"github.com/lanternhq/lantern/services/logging"
	"github.com/wneessen/go-mail"
	"go.uber.org/zap"
)

// Service delivers the magic-link notifications over SMTP. Templates are
// optional: when no template directory is configured each notification
// falls back to a built-in plain-text body.
type Service struct {
	config        *config.Config
	client        *mail.Client
	htmlTemplates *htmlTemplate.Template
	textTemplates *textTemplate.Template
	logger        *logging.Service
}

func NewService(cfg *config.Config, logger *logging.Service) (*Service, error) {
	mailCfg := cfg.Mail

	if mailCfg.FromAddress == "" {
		return nil, fmt.Errorf("MAIL_FROM_ADDRESS is required")
	}

	clientOpts := []mail.Option{
		mail.WithPort(mailCfg.Port),
	}

	switch mailCfg.Encryption {
	case "tls", "starttls":
		clientOpts = append(clientOpts, mail.WithTLSPortPolicy(mail.TLSMandatory))
	case "ssl":
		clientOpts = append(clientOpts, mail.WithSSL())
	case "none":
		clientOpts = append(clientOpts, mail.WithTLSPortPolicy(mail.NoTLS))
	default:
		clientOpts = append(clientOpts, mail.WithTLSPortPolicy(mail.TLSMandatory))
	}

	if mailCfg.Username != "" {
		clientOpts = append(clientOpts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(mailCfg.Username))
	}
	if mailCfg.Password != "" {
		clientOpts = append(clientOpts, mail.WithPassword(mailCfg.Password))
	}

	client, err := mail.NewClient(mailCfg.Host, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create mail client: %w", err)
	}

	service := &Service{
		config: cfg,
		client: client,
		logger: logger,
	}

	if err := service.loadTemplates(); err != nil {
		return nil, fmt.Errorf("failed to load mail templates: %w", err)
	}

	logger.Info("mail service initialized",
		zap.String("host", mailCfg.Host),
		zap.Int("port", mailCfg.Port),
		zap.String("from_address", mailCfg.FromAddress))
	return service, nil
}

func (s *Service) loadTemplates() error {
	dir := s.config.Mail.TemplatesDir
	if dir == "" {
		return nil
	}

	htmlPattern := filepath.Join(dir, "*.html")
	textPattern := filepath.Join(dir, "*.txt")

	var err error
	s.htmlTemplates, err = htmlTemplate.ParseGlob(htmlPattern)
	if err != nil && err.Error() != "template: pattern matches no files: "+htmlPattern {
		return fmt.Errorf("failed to parse HTML templates: %w", err)
	}

	s.textTemplates, err = textTemplate.ParseGlob(textPattern)
	if err != nil && err.Error() != "template: pattern matches no files: "+textPattern {
		return fmt.Errorf("failed to parse text templates: %w", err)
	}

	return nil
}

func (s *Service) SendLoginLink(email, url string) error {
	return s.send("login_link", []string{email},
		fmt.Sprintf("Sign in to %s", s.config.App.Name),
		map[string]any{
			"Email":   email,
			"LinkURL": url,
			"AppName": s.config.App.Name,
		},
		fmt.Sprintf("Click this link to sign in to %s:\n\n%s\n\nThe link expires in %s. If you did not request it, you can ignore this email.",
			s.config.App.Name, url, s.config.Token.LoginExpiry),
	)
}

func (s *Service) SendEmailAdditionLink(email, url string) error {
	return s.send("email_addition", []string{email},
		fmt.Sprintf("Confirm your email address for %s", s.config.App.Name),
		map[string]any{
			"Email":   email,
			"LinkURL": url,
			"AppName": s.config.App.Name,
		},
		fmt.Sprintf("Click this link to add %s to your %s account:\n\n%s\n\nThe link expires in %s.",
			email, s.config.App.Name, url, s.config.Token.AddEmailExpiry),
	)
}

// SendMergeWarning tells the owner of the target account who asked for
// the merge and that confirming is irreversible. This mail is the only
// warning the user gets before the merge endpoint destroys the account.
func (s *Service) SendMergeWarning(email, url, requesterName string) error {
	return s.send("merge_warning", []string{email},
		fmt.Sprintf("Account merge requested on %s", s.config.App.Name),
		map[string]any{
			"Email":         email,
			"LinkURL":       url,
			"AppName":       s.config.App.Name,
			"RequesterName": requesterName,
		},
		fmt.Sprintf("%q asked to merge your %s account into theirs.\n\nIf you confirm, every email address on this account moves to %q and this account is permanently deleted. This cannot be undone.\n\nConfirm only if you requested this:\n\n%s\n\nOtherwise ignore this email and nothing changes.",
			requesterName, s.config.App.Name, requesterName, url),
	)
}

// SendRecoveryLinks dispatches one login link per selected-for-login
// address. Delivery is attempted for every address even if one fails.
func (s *Service) SendRecoveryLinks(emails, urls []string) error {
	if len(emails) != len(urls) {
		return fmt.Errorf("recovery emails and urls length mismatch: %d != %d", len(emails), len(urls))
	}

	var firstErr error
	for i := range emails {
		if err := s.SendLoginLink(emails[i], urls[i]); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (s *Service) send(templateName string, to []string, subject string, data map[string]any, fallbackBody string) error {
	message := mail.NewMsg()

	fromAddr := s.config.Mail.FromAddress
	if s.config.Mail.FromName != "" {
		fromAddr = fmt.Sprintf("%s <%s>", s.config.Mail.FromName, s.config.Mail.FromAddress)
	}
	if err := message.From(fromAddr); err != nil {
		return fmt.Errorf("failed to set FROM address: %w", err)
	}

	if err := message.To(to...); err != nil {
		return fmt.Errorf("failed to set TO addresses: %w", err)
	}
	message.Subject(subject)

	if !s.renderTemplate(templateName, data, message) {
		message.SetBodyString(mail.TypeTextPlain, fallbackBody)
	}

	if err := s.client.DialAndSend(message); err != nil {
		s.logger.Error("failed to send email",
			zap.Error(err),
			zap.String("template", templateName))
		return err
	}

	s.logger.Info("email sent",
		zap.String("template", templateName),
		zap.Strings("recipients", to))
	return nil
}

func (s *Service) renderTemplate(templateName string, data map[string]any, message *mail.Msg) bool {
	var rendered bool

	if s.htmlTemplates != nil {
		if tpl := s.htmlTemplates.Lookup(templateName + ".html"); tpl != nil {
			var buf bytes.Buffer
			if err := tpl.Execute(&buf, data); err == nil {
				message.SetBodyString(mail.TypeTextHTML, buf.String())
				rendered = true
			} else {
				s.logger.Error("failed to execute HTML template",
					zap.Error(err), zap.String("template", templateName))
			}
		}
	}

	if s.textTemplates != nil {
		if tpl := s.textTemplates.Lookup(templateName + ".txt"); tpl != nil {
			var buf bytes.Buffer
			if err := tpl.Execute(&buf, data); err == nil {
				if rendered {
					message.AddAlternativeString(mail.TypeTextPlain, buf.String())
				} else {
					message.SetBodyString(mail.TypeTextPlain, buf.String())
				}
				rendered = true
			} else {
				s.logger.Error("failed to execute text template",
					zap.Error(err), zap.String("template", templateName))
			}
		}
	}

	return rendered
}
