package game

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	loginBanner = "╔══════════════════════════════════════╗\r\n" +
		"║                SAMUD                 ║\r\n" +
		"║   Stories along the San Antonio      ║\r\n" +
		"╚══════════════════════════════════════╝"
	loginTagline = "Walk the river, meet the locals, remember the Alamo."
	loginChoices = "Type login, signup, help or quit."
	loginHelp    = "login  - enter an existing account\r\n" +
		"signup - create a new account\r\n" +
		"quit   - disconnect"

	maxLoginFailures = 5
)

// authFailureDelay is the constant penalty after a failed login.
var authFailureDelay = time.Second

// ErrLoginCancelled is returned when the client quits before logging in.
var ErrLoginCancelled = errors.New("login cancelled")

// notify writes pre-auth text to s alone.
func (g *Game) notify(s *Session, text string) {
	g.Router.SendToSession(s.ID, Ansi(text))
}

// ask prompts until a line arrives. Oversized input is discarded with a
// notice and the prompt repeats.
func (g *Game) ask(s *Session, prompt string) (string, error) {
	for {
		g.notify(s, "\r\n"+prompt)
		line, err := s.ReadLine()
		switch {
		case err == nil:
			return Trim(line), nil
		case s.CloseReason() == ErrAuthExpired.Error():
			return "", ErrAuthExpired
		case errors.Is(err, ErrProtocol):
			g.notify(s, Style("\r\nInput line too long; it was ignored.", AnsiYellow))
		default:
			return "", err
		}
	}
}

// Login runs the pre-auth dialogue on s until a player has joined the
// world, the client quits, or the connection drops.
func (g *Game) Login(ctx context.Context, s *Session) (*Player, error) {
	g.notify(s, "\r\n"+Style(loginBanner, AnsiCyan, AnsiBold)+"\r\n")
	g.notify(s, Style("\r\n"+loginTagline+"\r\n", AnsiGreen))
	failures := 0
	for {
		g.Sessions.BeginCredentials(s, ModeNone)
		choice, err := g.ask(s, Style(loginChoices, AnsiMagenta, AnsiBold)+" ")
		if err != nil {
			return nil, err
		}
		var p *Player
		switch strings.ToLower(choice) {
		case "login", "l":
			p, err = g.loginExisting(ctx, s)
		case "signup", "s", "new":
			p, err = g.signup(ctx, s)
		case "help", "h", "?":
			g.notify(s, "\r\n"+loginHelp)
			continue
		case "quit", "q", "exit":
			g.notify(s, "\r\nGoodbye.\r\n")
			return nil, ErrLoginCancelled
		case "":
			continue
		default:
			g.notify(s, Style("\r\nUnknown choice.", AnsiYellow))
			continue
		}
		switch {
		case err == nil:
			return p, nil
		case errors.Is(err, ErrBadCredentials):
			failures++
			time.Sleep(authFailureDelay)
			g.notify(s, Style("\r\nInvalid username or password.", AnsiYellow))
			if failures >= maxLoginFailures {
				g.notify(s, "\r\nToo many failed attempts.\r\n")
				return nil, err
			}
		case errors.Is(err, ErrDuplicateLogin):
			g.notify(s, Style("\r\nThat account is already logged in.", AnsiYellow))
		case errors.Is(err, ErrAccountExists):
			g.notify(s, Style("\r\nThat name is already taken.", AnsiYellow))
		case errors.Is(err, errRetryChoice):
		default:
			return nil, err
		}
	}
}

// errRetryChoice sends the client back to the welcome choice without a
// penalty; the reason has already been shown.
var errRetryChoice = errors.New("retry")

func (g *Game) loginExisting(ctx context.Context, s *Session) (*Player, error) {
	g.Sessions.BeginCredentials(s, ModeLogin)
	name, err := g.ask(s, "Username: ")
	if err != nil {
		return nil, err
	}
	pass, err := g.ask(s, "Password: ")
	if err != nil {
		return nil, err
	}
	g.Sessions.BeginAuthentication(s)
	rec, err := g.Accounts.Authenticate(ctx, name, pass)
	if err != nil {
		if !errors.Is(err, ErrBadCredentials) {
			g.Log.Error("account lookup failed", zap.String("session", s.ID), zap.Error(err))
			g.notify(s, Style("\r\nAccounts are unavailable right now. Try again later.", AnsiYellow))
			return nil, errRetryChoice
		}
		g.Log.Info("login failed", zap.String("session", s.ID), zap.String("player", name))
		return nil, err
	}
	return g.enter(ctx, s, rec.Username, RoomID(rec.CurrentRoom), "Welcome back, "+rec.Username+"!")
}

func (g *Game) signup(ctx context.Context, s *Session) (*Player, error) {
	g.Sessions.BeginCredentials(s, ModeSignup)
	var name string
	for {
		var err error
		name, err = g.ask(s, "Choose a name: ")
		if err != nil {
			return nil, err
		}
		if err := validateUsername(name); err != nil {
			g.notify(s, Style("\r\n"+err.Error(), AnsiYellow))
			continue
		}
		taken, err := g.Accounts.Exists(ctx, name)
		if err != nil {
			g.Log.Error("account lookup failed", zap.String("session", s.ID), zap.Error(err))
			g.notify(s, Style("\r\nAccounts are unavailable right now. Try again later.", AnsiYellow))
			return nil, errRetryChoice
		}
		if taken {
			g.notify(s, Style("\r\nThat name is already taken.", AnsiYellow))
			continue
		}
		break
	}
	var pass string
	for {
		var err error
		pass, err = g.ask(s, "Choose a password: ")
		if err != nil {
			return nil, err
		}
		if err := validatePassword(pass); err != nil {
			g.notify(s, Style("\r\n"+err.Error(), AnsiYellow))
			continue
		}
		confirm, err := g.ask(s, "Confirm password: ")
		if err != nil {
			return nil, err
		}
		if confirm != pass {
			g.notify(s, Style("\r\nPasswords do not match.", AnsiYellow))
			continue
		}
		break
	}
	g.Sessions.BeginAuthentication(s)
	rec, err := g.Accounts.Register(ctx, name, pass)
	if err != nil {
		if errors.Is(err, ErrAccountExists) {
			return nil, err
		}
		g.Log.Error("account creation failed", zap.String("session", s.ID), zap.Error(err))
		g.notify(s, Style("\r\nCould not create the account. Try again later.", AnsiYellow))
		return nil, errRetryChoice
	}
	g.record("signup", rec.Username, "", "", "")
	return g.enter(ctx, s, rec.Username, "", "Account created. Welcome, "+rec.Username+"!")
}

func (g *Game) enter(ctx context.Context, s *Session, name string, room RoomID, greeting string) (*Player, error) {
	p, err := g.Join(s, name, room)
	if err != nil {
		return nil, err
	}
	g.Accounts.RecordLogin(ctx, name)
	p.Send(Ansi(Style("\r\n"+greeting, AnsiGreen)))
	p.Send(fmt.Sprintf("\r\n%s", DescribeRoom(g.World, p)))
	return p, nil
}
