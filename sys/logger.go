package sys

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
	"gopkg.in/natefinch/lumberjack.v2"
)

// --- Globals & Styles ---

var (
	// Level colors
	infoColor  = color.New()
	warnColor  = color.New(color.FgYellow)
	errorColor = color.New(color.FgRed)
	fatalColor = color.New(color.FgRed, color.Bold)
	debugColor = color.New(color.FgHiBlack)

	// Component colors
	databaseColor = color.New()
	loaderColor   = color.New(color.FgBlue)
	voiceColor    = color.New(color.FgMagenta)
	sourceColor   = color.New(color.FgCyan)
	fetchColor    = color.New(color.FgGreen)
	queueColor    = color.New(color.FgHiMagenta)
	bridgeColor   = color.New(color.FgHiBlue)
	webColor      = color.New(color.FgHiCyan)

	DefaultTimeFormat = "15:04:05"
	IsSilent          = false
	Logger            *slog.Logger

	logFile *lumberjack.Logger
	logMu   sync.Mutex
)

// --- Initialization ---

func init() {
	InitLogger(false, "")
}

// InitLogger installs the bot log handler as the slog default. A non-empty
// path additionally writes ANSI-stripped lines to a rotated log file.
func InitLogger(silent bool, path string) {
	logMu.Lock()
	defer logMu.Unlock()

	IsSilent = silent
	level := slog.LevelInfo
	if strings.ToLower(os.Getenv("DEBUG")) == "true" {
		level = slog.LevelDebug
	}

	if logFile != nil {
		_ = logFile.Close()
		logFile = nil
	}

	var writer io.Writer = os.Stdout
	if path != "" {
		logFile = &lumberjack.Logger{
			Filename:   path,
			MaxSize:    20,
			MaxBackups: 5,
			MaxAge:     14,
			Compress:   true,
		}
		writer = io.MultiWriter(os.Stdout, NewStripANSIWriter(logFile))
	}

	handler := NewBotLogHandler(writer, &BotLogHandlerOptions{
		Silent: IsSilent,
		Level:  level,
	})
	Logger = slog.New(handler)
	slog.SetDefault(Logger)
}

func SetSilentMode(silent bool) {
	path := ""
	logMu.Lock()
	if logFile != nil {
		path = logFile.Filename
	}
	logMu.Unlock()
	InitLogger(silent, path)
}

// --- Public Logging API ---

func LogInfo(format string, v ...any) {
	slog.Info(fmt.Sprintf(format, v...))
}

func LogWarn(format string, v ...any) {
	slog.Warn(fmt.Sprintf(format, v...))
}

func LogError(format string, v ...any) {
	slog.Error(fmt.Sprintf(format, v...))
}

// exit is swapped out by tests.
var exit = os.Exit

func LogFatal(format string, v ...any) {
	msg := fmt.Sprintf(format, v...)
	slog.Log(context.Background(), slog.LevelError+4, msg)
	exit(1)
}

func LogDebug(format string, v ...any) {
	slog.Debug(fmt.Sprintf(format, v...))
}

// Component Loggers

func LogDatabase(format string, v ...any) {
	slog.Info(fmt.Sprintf(format, v...), slog.String("component", "database"))
}

func LogLoader(format string, v ...any) {
	slog.Info(fmt.Sprintf(format, v...), slog.String("component", "loader"))
}

func LogVoice(format string, v ...any) {
	slog.Info(fmt.Sprintf(format, v...), slog.String("component", "voice"))
}

func LogSource(format string, v ...any) {
	slog.Info(fmt.Sprintf(format, v...), slog.String("component", "source"))
}

func LogFetch(format string, v ...any) {
	slog.Info(fmt.Sprintf(format, v...), slog.String("component", "fetch"))
}

func LogQueue(format string, v ...any) {
	slog.Info(fmt.Sprintf(format, v...), slog.String("component", "queue"))
}

func LogBridge(format string, v ...any) {
	slog.Info(fmt.Sprintf(format, v...), slog.String("component", "bridge"))
}

func LogWeb(format string, v ...any) {
	slog.Info(fmt.Sprintf(format, v...), slog.String("component", "web"))
}

// --- Log Handler Implementation ---

type BotLogHandlerOptions struct {
	Silent bool
	Level  slog.Leveler
}

type BotLogHandler struct {
	w    io.Writer
	opts *BotLogHandlerOptions
	mu   *sync.Mutex
}

func NewBotLogHandler(w io.Writer, opts *BotLogHandlerOptions) *BotLogHandler {
	if opts == nil {
		opts = &BotLogHandlerOptions{Level: slog.LevelInfo}
	}
	return &BotLogHandler{
		w:    w,
		opts: opts,
		mu:   &sync.Mutex{},
	}
}

func (h *BotLogHandler) Enabled(_ context.Context, level slog.Level) bool {
	if h.opts.Silent {
		return false
	}
	return level >= h.opts.Level.Level()
}

func (h *BotLogHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.opts.Silent {
		return nil
	}

	timeStr := time.Now().Format(DefaultTimeFormat)
	var levelStr string
	var levelColor *color.Color

	switch {
	case r.Level >= slog.LevelError+4:
		levelStr = "FATAL"
		levelColor = fatalColor
	case r.Level >= slog.LevelError:
		levelStr = "ERROR"
		levelColor = errorColor
	case r.Level >= slog.LevelWarn:
		levelStr = "WARN"
		levelColor = warnColor
	case r.Level >= slog.LevelInfo:
		levelStr = "INFO"
		levelColor = infoColor
	default:
		levelStr = "DEBUG"
		levelColor = debugColor
	}

	component := ""
	var extra []string
	r.Attrs(func(a slog.Attr) bool {
		if a.Key == "component" {
			component = strings.ToUpper(a.Value.String())
			return true
		}
		extra = append(extra, a.Key+"="+a.Value.String())
		return true
	})

	msg := r.Message
	if len(extra) > 0 {
		msg += " " + strings.Join(extra, " ")
	}

	fmt.Fprintf(h.w, "%s", timeStr)

	if component != "" {
		if levelStr != "INFO" {
			fmt.Fprintf(h.w, " %s", levelColor.Sprintf("[%s]", levelStr))
		}
		compColor := getComponentColor(component)
		fmt.Fprintf(h.w, " %s\n", colorizeWithResets(compColor, fmt.Sprintf("[%s] %s", component, msg)))
	} else {
		displayMsg := fmt.Sprintf("[%s] %s", levelStr, msg)
		if levelStr == "INFO" && strings.HasPrefix(msg, "[") {
			if idx := strings.Index(msg, "]"); idx > 0 && idx < 20 {
				displayMsg = msg
			}
		}
		fmt.Fprintf(h.w, " %s\n", colorizeWithResets(levelColor, displayMsg))
	}

	return nil
}

// disgo hands its own attributes down through WithAttrs; they are rendered
// inline by Handle, so the handler itself stays stateless.
func (h *BotLogHandler) WithAttrs(_ []slog.Attr) slog.Handler { return h }
func (h *BotLogHandler) WithGroup(_ string) slog.Handler      { return h }

// --- Formatting Helpers ---

func getComponentColor(name string) *color.Color {
	switch name {
	case "DATABASE":
		return databaseColor
	case "LOADER":
		return loaderColor
	case "VOICE":
		return voiceColor
	case "SOURCE":
		return sourceColor
	case "FETCH":
		return fetchColor
	case "QUEUE":
		return queueColor
	case "BRIDGE":
		return bridgeColor
	case "WEB":
		return webColor
	default:
		return color.New(color.FgCyan)
	}
}

func colorizeWithResets(c *color.Color, text string) string {
	if !strings.Contains(text, "\x1b[0m") {
		return c.Sprint(text)
	}

	marker := "@@@MSG@@@"
	wrapped := c.Sprint(marker)
	idx := strings.Index(wrapped, marker)
	if idx <= 0 {
		return text
	}
	startSeq := wrapped[:idx]

	modifiedText := strings.ReplaceAll(text, "\x1b[0m", "\x1b[0m"+startSeq)
	return c.Sprint(modifiedText)
}

// --- ANSI Stripper ---

type StripANSIWriter struct {
	w  io.Writer
	re *regexp.Regexp
}

func NewStripANSIWriter(w io.Writer) *StripANSIWriter {
	return &StripANSIWriter{
		w:  w,
		re: regexp.MustCompile(`\x1b\[[0-9;]*m`),
	}
}

func (s *StripANSIWriter) Write(p []byte) (n int, err error) {
	clean := s.re.ReplaceAll(p, []byte(""))
	_, err = s.w.Write(clean)
	return len(p), err
}

// --- Message Constants ---

const (
	// --- Infrastructure & Lifecycle ---
	MsgConfigFailedToLoad  = "Failed to load config: %v"
	MsgConfigMissingToken  = "DISCORD_TOKEN is not set in .env file"
	MsgDatabaseInitSuccess = "Database initialized successfully"
	MsgDatabaseTableError  = "Failed to create table: %w"
	MsgDatabasePragmaError = "Failed to set pragma %s: %w"
	MsgDaemonStarting      = "Starting..."
	MsgBotStarting         = "Starting %s..."
	MsgBotReady            = "%s is ready! (ID: %s) (PID: %d) (Took: %dms)"
	MsgBotShutdown         = "Shutting down %s..."
	MsgBotRegisterFail     = "Command registration failed: %v"
	MsgBotClientCreateFail = "failed to create Discord client after %d attempts: %w"
	MsgBotClientRetry      = "Failed to create Discord client (attempt %d/%d): %v. Retrying in 5s..."
	MsgBotSkipReg          = "Skipping command registration as requested."
	MsgBotGatewayFail      = "failed to open gateway: %w"
	MsgDaemonShutdown      = "Shutting down all daemons..."
	MsgDatabaseInitFail    = "failed to initialize database: %w"
	MsgInitializing        = "Initializing %s..."

	// --- Command Loader & Registry ---
	MsgLoaderSyncCommands   = "Syncing %s commands..."
	MsgLoaderUpToDate       = "Commands are up to date. (Hash: %s)"
	MsgLoaderRegistered     = "Registered command: %s"
	MsgLoaderRegisterFail   = "Failed to register commands: %w"
	MsgLoaderPanicRecovered = "Recovered from panic: %v"

	// --- Source Resolver ---
	MsgSourceHostFailed    = "Host %s failed: %v"
	MsgSourceAllHostsDown  = "All %d hosts failed for %q"
	MsgSourcePromoted      = "Promoted %s to pool front"
	MsgSourceExtractFailed = "Extractor produced no URL for %s: %s"
	MsgSourceWarmupDone    = "Sorted %d hosts: %s"

	// --- Fetch Coordinator ---
	MsgFetchStarted   = "Materializing %s"
	MsgFetchDone      = "Materialized %s (%s in %s)"
	MsgFetchFailed    = "Transcoding %s failed: %v"
	MsgFetchNoSource  = "No audio source for %s"
	MsgFetchBadID     = "Refusing to fetch malformed track id %q"
	MsgFetchCacheHit  = "Cache hit for %s"
	MsgFetchJoinedRun = "Waiting on in-flight fetch for %s"

	// --- Voice ---
	MsgVoiceJoining       = "Joining channel %s in guild %s"
	MsgVoiceJoinRetry     = "Retrying voice connection in %v (Attempt %d/%d)"
	MsgVoiceJoinFailed    = "Failed to connect to voice in guild %s after %d attempts: %v"
	MsgVoiceDisconnected  = "Disconnected from guild %s"
	MsgVoiceSliceFailed   = "Loading slice %d of %s failed: %v"
	MsgVoiceQueueFailed   = "Queue operation failed in channel %s: %v"
	MsgVoiceNotifyFailed  = "Failed to notify channel %s: %v"
	MsgVoiceAutoPause     = "Pausing playback in guild %s (No humans)"
	MsgVoiceIdleTimeout   = "Channel %s idle for %v, disconnecting"
	MsgVoicePlaybackStart = "Now playing %s (%s) in %s"

	// --- User-facing ---
	ErrTrackUnavailable  = "Cannot fetch this track, most likely the original YouTube video was deleted.\nRemoving track and continue."
	ErrAudioUnavailable  = "Cannot fetch the audio for track ID `%s`, removing from queue."
	MsgStopAfterDone     = "Done playing song, disconnected due to `stopafter` request."
	MsgAllMembersLeft    = "All members have left <#%s>. Paused audio."
	MsgIdleDisconnect    = "<#%s> has been idle for %s. Disconnected."
	MsgRepeatOne         = "Switched to `REPEAT ONE` mode. The current song will be played repeatedly."
	MsgRepeatAll         = "Switched to `REPEAT ALL` mode. All songs will be played as normal."
	MsgShuffleOn         = "Shuffle has been turned on. Songs will be played randomly."
	MsgShuffleOff        = "Shuffle has been turned off. Songs will be played with the queue order."
	MsgStopAfterOn       = "Enabled `stopafter`. This will be the last song to be played."
	MsgStopAfterOff      = "Disabled `stopafter`. Other songs will be played normally after this one ends."
	ErrNoPlayer          = "No currently connected player."
	ErrJoinVoiceFirst    = "Please join a voice channel first!"
	ErrQueueEmpty        = "This voice channel has no music in its queue!"
	ErrCommandOnCooldown = "You are on cooldown. Try again in %s."
	ErrTrackDeleted      = "Cannot fetch this track, most likely the original YouTube video was deleted."
	ErrEngineStarting    = "The music player is still starting up. Try again in a moment."
	ErrAlreadyPlaying    = "I'm already playing in this server. Use `/music stop` first."
	ErrVoiceConnect      = "Failed to join the voice channel: %v"
	ErrQueueStore        = "Could not access the queue: %v"
	ErrQueueFull         = "The queue is full (maximum %d tracks)."
	ErrNoResults         = "No results for %q."
	ErrBadPosition       = "There is no song at that position."
	ErrBadIndex          = "Invalid `index` argument (must be from `1` to `%d`)."
	ErrImportMissing     = "Please attach a file containing the music queue data."
	ErrImportInvalid     = "Invalid data has been provided. Please try another one."
	ErrImportEmpty       = "The provided data represents an empty queue. Please try another one."
	ErrImportDownload    = "Could not download the attachment: %v"
	ErrBadPlaylist       = "Please give a playlist URL (with `list=`) or a playlist ID."
	ErrPlaylistNotFound  = "Cannot find this playlist. Make sure that this playlist isn't private."
	ErrDownloadTooMany   = "You cannot use this command for queues with more than %d songs!"
	ErrNotPlayingYet     = "Nothing has started playing yet. Try again in a moment."
	ErrControlFailed     = "That did not work: %v"
	ErrNotRegistered     = "This player has no dashboard link."
	MsgTrackAdded        = "Added [%s](%s) `%s` to the queue (position %d)."
	MsgPlayStarted       = "Started playing in <#%s> (%d tracks queued)."
	MsgQueueCleared      = "Cleared the queue of <#%s>."
	MsgTrackRemoved      = "Removed track `%d`: %s"
	MsgQueueRotated      = "Rotated song at index `%d` to the first."
	MsgQueueExported     = "This is the music queue file. You can load it into another voice channel with `/music import`."
	MsgQueueImported     = "Loaded %d tracks into <#%s>."
	MsgPlaylistLoaded    = "Loaded %d tracks into <#%s> (%d queued)."
	MsgDownloadReady     = "Download links for the queue of <#%s>:"
	MsgAlreadyPaused     = "Playback is already paused."
	MsgNotPaused         = "Playback is not paused."
	MsgDashboardLink     = "You can now control the music player via %s"
	MsgDashboardRevoked  = "The dashboard link of this player has been revoked."
	MsgVoiceLatency      = "Voice latency: %dms"
	MsgHostOrder         = "Source hosts (%d, fastest first):\n%s"
	MsgEngineStatus      = "Sessions: %d | Fetches in flight: %d | Dashboard links: %d"
	MsgPaused            = "Paused due to %s request"
	MsgResumed           = "Resumed due to %s request"
	MsgSkipped           = "Skipped due to %s request"
	MsgStopped           = "Stopped due to %s request"

	// --- Published playlists ---
	ErrPublishTooFew     = "Please add at least %d songs to the queue to publish."
	ErrPublishTitle      = "Title must contain between 1 and %d characters."
	ErrPublishLimit      = "You have published the maximum number of queues (%d)."
	ErrPublishedNotFound = "No playlist with ID `%d`."
	ErrPublishedNotOwner = "You do not own this playlist!"
	ErrNoPublished       = "You have not published any playlist yet."
	ErrBrowseEmpty       = "No matching result was found."
	MsgPublished         = "Published the queue of <#%s> (%d songs)."
	MsgUnpublished       = "Unpublished 1 playlist"
	MsgPublishedLoaded   = "Loaded playlist `%d` into <#%s> (%d tracks)."

	// --- Web ---
	MsgWebListening    = "Dashboard listening on %s"
	MsgWebServeFailed  = "Dashboard server stopped: %v"
	MsgWebBadKey       = "Rejected %s from %s: unknown key"
	MsgWebUpgradeFail  = "Websocket upgrade failed: %v"
	MsgWebSkipFailed   = "Skip requested from the dashboard failed: %v"
	MsgWebRateLimited  = "Rate limited %s"
)
