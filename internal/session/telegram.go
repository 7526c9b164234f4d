package session

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"

	"sendboard/internal/storage"
	logx "sendboard/pkg/logx"
)

// telegramSession is one tenant's telebot long-poll connection.
//
// Telegram has no server-side directory to enumerate, so the session keeps a
// cache of every chat it has seen updates from; that cache backs the
// resolve-by-name fallback and the dashboard group/contact listings.
type telegramSession struct {
	tenant      string
	token       string
	pollTimeout time.Duration
	log         logx.Logger

	bot     *tele.Bot
	limiter *rate.Limiter

	ready     atomic.Bool
	loginTime time.Time

	dirMu sync.RWMutex
	dir   map[int64]Info
	isGrp map[int64]bool

	stopOnce sync.Once
}

func newTelegramSession(tenant, token string, pollTimeout time.Duration, ratePerSec int, log logx.Logger) *telegramSession {
	if pollTimeout <= 0 {
		pollTimeout = 10 * time.Second
	}
	if ratePerSec <= 0 {
		ratePerSec = 1
	}
	return &telegramSession{
		tenant:      tenant,
		token:       token,
		pollTimeout: pollTimeout,
		log:         log.With(logx.String("tenant", tenant), logx.String("session", "telegram")),
		limiter:     rate.NewLimiter(rate.Limit(ratePerSec), ratePerSec),
		dir:         map[int64]Info{},
		isGrp:       map[int64]bool{},
	}
}

func (s *telegramSession) Start(ctx context.Context) error {
	b, err := tele.NewBot(tele.Settings{
		Token:  s.token,
		Poller: &tele.LongPoller{Timeout: s.pollTimeout},
	})
	if err != nil {
		return err
	}
	s.bot = b

	b.Handle(tele.OnText, func(c tele.Context) error {
		s.observe(c.Message())
		return nil
	})
	b.Handle(tele.OnUserJoined, func(c tele.Context) error {
		s.observe(c.Message())
		return nil
	})

	go func() {
		s.log.Info("polling started")
		b.Start() // blocks until Stop()
	}()

	s.loginTime = time.Now()
	s.ready.Store(true)
	return nil
}

func (s *telegramSession) Stop(ctx context.Context) error {
	s.ready.Store(false)
	s.stopOnce.Do(func() {
		if s.bot != nil {
			// telebot Stop is expected to be fast; run it async so a hung
			// long-poll never blocks shutdown.
			go s.bot.Stop()
		}
	})
	s.log.Info("polling stopped")
	return nil
}

func (s *telegramSession) Ready() bool { return s.ready.Load() }

func (s *telegramSession) Identity() (Identity, bool) {
	if s.bot == nil || s.bot.Me == nil {
		return Identity{}, false
	}
	name := s.bot.Me.Username
	if name == "" {
		name = s.bot.Me.FirstName
	}
	return Identity{ID: strconv.FormatInt(s.bot.Me.ID, 10), Name: name}, true
}

func (s *telegramSession) LoginTime() (time.Time, bool) {
	if !s.Ready() {
		return time.Time{}, false
	}
	return s.loginTime, true
}

func (s *telegramSession) Resolve(ctx context.Context, ttype storage.TargetType, id, name string) (Target, error) {
	if chatID, err := strconv.ParseInt(id, 10, 64); err == nil {
		if chat, err := s.bot.ChatByID(chatID); err == nil && chat != nil {
			return &telegramTarget{s: s, chatID: chat.ID, name: chatDisplayName(chat)}, nil
		}
	}

	// Fall back to the cached directory by display name.
	wantGroup := ttype == storage.TargetGroup
	s.dirMu.RLock()
	defer s.dirMu.RUnlock()
	for chatID, info := range s.dir {
		if s.isGrp[chatID] == wantGroup && info.Name == name {
			return &telegramTarget{s: s, chatID: chatID, name: info.Name}, nil
		}
	}
	return nil, ErrNotFound
}

func (s *telegramSession) Groups(ctx context.Context) ([]Info, error) {
	return s.listDir(true), nil
}

func (s *telegramSession) Contacts(ctx context.Context) ([]Info, error) {
	return s.listDir(false), nil
}

func (s *telegramSession) listDir(groups bool) []Info {
	s.dirMu.RLock()
	defer s.dirMu.RUnlock()
	out := make([]Info, 0, len(s.dir))
	for chatID, info := range s.dir {
		if s.isGrp[chatID] == groups {
			out = append(out, info)
		}
	}
	return out
}

func (s *telegramSession) observe(m *tele.Message) {
	if m == nil || m.Chat == nil {
		return
	}
	chat := m.Chat
	group := chat.Type == tele.ChatGroup || chat.Type == tele.ChatSuperGroup

	s.dirMu.Lock()
	defer s.dirMu.Unlock()
	s.dir[chat.ID] = Info{ID: strconv.FormatInt(chat.ID, 10), Name: chatDisplayName(chat)}
	s.isGrp[chat.ID] = group
}

func chatDisplayName(chat *tele.Chat) string {
	if chat.Title != "" {
		return chat.Title
	}
	if chat.FirstName != "" {
		name := chat.FirstName
		if chat.LastName != "" {
			name += " " + chat.LastName
		}
		return name
	}
	return chat.Username
}

type telegramTarget struct {
	s      *telegramSession
	chatID int64
	name   string
}

func (t *telegramTarget) ID() string   { return strconv.FormatInt(t.chatID, 10) }
func (t *telegramTarget) Name() string { return t.name }

func (t *telegramTarget) SendText(ctx context.Context, text string) error {
	if err := t.s.limiter.Wait(ctx); err != nil {
		return err
	}
	_, err := t.s.bot.Send(&tele.Chat{ID: t.chatID}, text)
	return err
}

func (t *telegramTarget) SendFile(ctx context.Context, path string) error {
	if err := t.s.limiter.Wait(ctx); err != nil {
		return err
	}
	doc := &tele.Document{File: tele.FromDisk(path)}
	_, err := t.s.bot.Send(&tele.Chat{ID: t.chatID}, doc)
	return err
}
