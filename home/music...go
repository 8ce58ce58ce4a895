package home

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/events"
	"github.com/disgoorg/omit"
	"github.com/disgoorg/snowflake/v2"
	"github.com/leeineian/haruka/player"
	"github.com/leeineian/haruka/proc"
	"github.com/leeineian/haruka/sys"
	"golang.org/x/time/rate"
)

const (
	commandTimeout   = time.Minute
	commandCooldown  = 2 * time.Second
	downloadCooldown = time.Minute
)

var (
	cooldowns         = newCooldowns(commandCooldown)
	downloadCooldowns = newCooldowns(downloadCooldown)
)

func init() {
	guildOnly := []discord.InteractionContextType{discord.InteractionContextTypeGuild}
	managePerm := discord.PermissionManageChannels

	sys.RegisterCommand(discord.SlashCommandCreate{
		Name:        "music",
		Description: "Music player",
		Contexts:    guildOnly,
		Options: []discord.ApplicationCommandOption{
			discord.ApplicationCommandOptionSubCommand{
				Name:        "add",
				Description: "Search for a song and add it to this channel's queue",
				Options: []discord.ApplicationCommandOption{
					discord.ApplicationCommandOptionString{
						Name:         "query",
						Description:  "Song name or YouTube video ID",
						Required:     true,
						Autocomplete: true,
					},
				},
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "play",
				Description: "Join your voice channel and play its queue",
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "queue",
				Description: "Show the queue of your voice channel",
				Options: []discord.ApplicationCommandOption{
					discord.ApplicationCommandOptionInt{
						Name:        "page",
						Description: "Page number (default: 1)",
						Required:    false,
					},
				},
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "remove",
				Description: "Remove a song from the queue",
				Options: []discord.ApplicationCommandOption{
					discord.ApplicationCommandOptionString{
						Name:        "position",
						Description: "Queue position, or `all` to clear the queue",
						Required:    true,
					},
				},
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "rotate",
				Description: "Move the first songs of the queue to its end",
				Options: []discord.ApplicationCommandOption{
					discord.ApplicationCommandOptionInt{
						Name:        "index",
						Description: "Position that becomes the new front",
						Required:    true,
					},
				},
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "export",
				Description: "Export the queue as a JSON file",
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "import",
				Description: "Replace the queue with an exported JSON file",
				Options: []discord.ApplicationCommandOption{
					discord.ApplicationCommandOptionAttachment{
						Name:        "file",
						Description: "A queue.json produced by /music export",
						Required:    true,
					},
				},
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "playlist",
				Description: "Add the songs of a YouTube playlist",
				Options: []discord.ApplicationCommandOption{
					discord.ApplicationCommandOptionString{
						Name:        "url",
						Description: "Playlist URL",
						Required:    true,
					},
				},
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "download",
				Description: "Get download links for every song in the queue",
			},
			discord.ApplicationCommandOptionSubCommand{Name: "pause", Description: "Pause playback"},
			discord.ApplicationCommandOptionSubCommand{Name: "resume", Description: "Resume playback"},
			discord.ApplicationCommandOptionSubCommand{Name: "skip", Description: "Skip the current song"},
			discord.ApplicationCommandOptionSubCommand{Name: "stop", Description: "Stop playback and leave"},
			discord.ApplicationCommandOptionSubCommand{Name: "shuffle", Description: "Toggle shuffle"},
			discord.ApplicationCommandOptionSubCommand{Name: "repeat", Description: "Toggle repeat one"},
			discord.ApplicationCommandOptionSubCommand{Name: "stopafter", Description: "Leave after the current song"},
			discord.ApplicationCommandOptionSubCommand{Name: "register", Description: "Get a link to the web dashboard"},
			discord.ApplicationCommandOptionSubCommand{Name: "unregister", Description: "Revoke the web dashboard link"},
			discord.ApplicationCommandOptionSubCommand{Name: "ping", Description: "Show the voice connection latency"},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "publish",
				Description: "Publish this channel's queue so others can load it",
				Options: []discord.ApplicationCommandOption{
					discord.ApplicationCommandOptionString{
						Name:        "title",
						Description: "Playlist title",
						Required:    true,
					},
					discord.ApplicationCommandOptionString{
						Name:        "description",
						Description: "What the playlist is about",
						Required:    false,
					},
				},
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "unpublish",
				Description: "Delete one of your published playlists",
				Options: []discord.ApplicationCommandOption{
					discord.ApplicationCommandOptionInt{
						Name:        "id",
						Description: "Playlist ID",
						Required:    true,
					},
				},
			},
			discord.ApplicationCommandOptionSubCommand{Name: "myplaylists", Description: "List the playlists you published"},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "browse",
				Description: "Search published playlists",
				Options: []discord.ApplicationCommandOption{
					discord.ApplicationCommandOptionString{
						Name:        "query",
						Description: "Words in the title (default: most used)",
						Required:    false,
					},
				},
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "load",
				Description: "Replace this channel's queue with a published playlist",
				Options: []discord.ApplicationCommandOption{
					discord.ApplicationCommandOptionInt{
						Name:        "id",
						Description: "Playlist ID",
						Required:    true,
					},
				},
			},
		},
	}, handleMusic)

	sys.RegisterCommand(discord.SlashCommandCreate{
		Name:                     "musicadmin",
		Description:              "Music player maintenance",
		Contexts:                 guildOnly,
		DefaultMemberPermissions: omit.New(&managePerm),
		Options: []discord.ApplicationCommandOption{
			discord.ApplicationCommandOptionSubCommand{
				Name:        "hosts",
				Description: "Show the source host order",
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "status",
				Description: "Show playback engine counters",
			},
		},
	}, handleMusicAdmin)

	sys.RegisterAutocompleteHandler("music", handleMusicAutocomplete)
}

func handleMusic(event *events.ApplicationCommandInteractionCreate) {
	data := event.SlashCommandInteractionData()
	if data.SubCommandName == nil {
		return
	}
	sub := *data.SubCommandName

	limiter := cooldowns
	if sub == "download" {
		limiter = downloadCooldowns
	}
	if wait, ok := limiter.allow(event.User().ID); !ok {
		replyEphemeral(event, fmt.Sprintf(sys.ErrCommandOnCooldown, wait.Round(time.Second)))
		return
	}

	e := proc.GetEngine()
	if e == nil {
		replyEphemeral(event, sys.ErrEngineStarting)
		return
	}

	switch sub {
	case "add":
		handleMusicAdd(event, data, e)
	case "play":
		handleMusicPlay(event, e)
	case "queue":
		handleMusicQueue(event, data, e)
	case "remove":
		handleMusicRemove(event, data, e)
	case "rotate":
		handleMusicRotate(event, data, e)
	case "export":
		handleMusicExport(event, e)
	case "import":
		handleMusicImport(event, data, e)
	case "playlist":
		handleMusicPlaylist(event, data, e)
	case "download":
		handleMusicDownload(event, e)
	case "pause", "resume", "skip", "stop", "shuffle", "repeat", "stopafter":
		handleMusicControl(event, sub, e)
	case "register":
		handleMusicRegister(event, e)
	case "unregister":
		handleMusicUnregister(event, e)
	case "ping":
		handleMusicPing(event, e)
	case "publish":
		handleMusicPublish(event, data, e)
	case "unpublish":
		handleMusicUnpublish(event, data, e)
	case "myplaylists":
		handleMusicMyPlaylists(event, e)
	case "browse":
		handleMusicBrowse(event, data, e)
	case "load":
		handleMusicLoad(event, data, e)
	}
}

// cooldowns hands every user a token bucket refilled once per interval.
type cooldowns struct {
	mu       sync.Mutex
	interval time.Duration
	users    map[snowflake.ID]*rate.Limiter
}

func newCooldowns(interval time.Duration) *cooldowns {
	return &cooldowns{interval: interval, users: make(map[snowflake.ID]*rate.Limiter)}
}

// allow consumes the user's token, or reports how long until one is free.
func (c *cooldowns) allow(userID snowflake.ID) (time.Duration, bool) {
	c.mu.Lock()
	l, ok := c.users[userID]
	if !ok {
		l = rate.NewLimiter(rate.Every(c.interval), 1)
		c.users[userID] = l
	}
	c.mu.Unlock()

	r := l.Reserve()
	if d := r.Delay(); d > 0 {
		r.Cancel()
		return d, false
	}
	return 0, true
}

// --- Shared helpers ---

func reply(event *events.ApplicationCommandInteractionCreate, content string) {
	_ = event.CreateMessage(discord.NewMessageCreateBuilder().SetContent(content).Build())
}

func replyEphemeral(event *events.ApplicationCommandInteractionCreate, content string) {
	_ = event.CreateMessage(discord.NewMessageCreateBuilder().SetContent(content).SetEphemeral(true).Build())
}

// followUp edits the deferred response.
func followUp(event *events.ApplicationCommandInteractionCreate, content string) {
	_, err := event.Client().Rest.UpdateInteractionResponse(event.ApplicationID(), event.Token(), discord.NewMessageUpdateBuilder().
		SetContent(content).
		Build())
	if err != nil {
		sys.LogDebug("Failed to update interaction: %v", err)
	}
}

func commandContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(sys.AppContext, commandTimeout)
}

// voiceChannel returns the caller's voice channel, replying when there is none.
func voiceChannel(event *events.ApplicationCommandInteractionCreate) (snowflake.ID, bool) {
	if event.GuildID() == nil {
		replyEphemeral(event, sys.ErrJoinVoiceFirst)
		return 0, false
	}
	state, ok := event.Client().Caches.VoiceState(*event.GuildID(), event.User().ID)
	if !ok || state.ChannelID == nil {
		replyEphemeral(event, sys.ErrJoinVoiceFirst)
		return 0, false
	}
	return *state.ChannelID, true
}

// session returns the guild's playback session, replying when there is none.
func session(event *events.ApplicationCommandInteractionCreate, e *proc.Engine) (*player.Session, bool) {
	if event.GuildID() != nil {
		if s, ok := e.Manager.Session(*event.GuildID()); ok {
			return s, true
		}
	}
	replyEphemeral(event, sys.ErrNoPlayer)
	return nil, false
}
