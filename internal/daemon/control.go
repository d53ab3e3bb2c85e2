package daemon

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/berrythewa/pastesync/internal/ipc"
	"github.com/berrythewa/pastesync/internal/paste"
	"github.com/berrythewa/pastesync/internal/storage"
	"github.com/berrythewa/pastesync/internal/task"
)

// Control commands served on the local socket.
const (
	CmdStatus   = "status"
	CmdHistory  = "history"
	CmdShow     = "show"
	CmdDelete   = "delete"
	CmdFavorite = "favorite"
	CmdClean    = "clean"
	CmdTasks    = "tasks"
)

// StatusInfo describes a running service.
type StatusInfo struct {
	DeviceID     string   `json:"deviceId"`
	SyncEnabled  bool     `json:"syncEnabled"`
	PeerID       string   `json:"peerId,omitempty"`
	Addrs        []string `json:"addrs,omitempty"`
	Devices      []string `json:"devices,omitempty"`
	PendingTasks int      `json:"pendingTasks"`
}

// IDArgs names pastes.
type IDArgs struct {
	IDs []int64 `json:"ids"`
}

type FavoriteArgs struct {
	ID       int64 `json:"id"`
	Favorite bool  `json:"favorite"`
}

type TasksArgs struct {
	Statuses []task.Status `json:"statuses"`
}

// DeleteResult counts deleted pastes.
type DeleteResult struct {
	Deleted int `json:"deleted"`
}

func decodeArgs(req *ipc.Request, v any) error {
	if len(req.Args) == 0 {
		return nil
	}
	if err := json.Unmarshal(req.Args, v); err != nil {
		return fmt.Errorf("invalid %s arguments: %w", req.Command, err)
	}
	return nil
}

// handleControl answers requests from the CLI while the service owns the
// databases.
func (s *Service) handleControl(ctx context.Context) ipc.Handler {
	return func(req *ipc.Request) (any, error) {
		switch req.Command {
		case CmdStatus:
			return s.status(ctx)

		case CmdHistory:
			var opts storage.HistoryOptions
			if err := decodeArgs(req, &opts); err != nil {
				return nil, err
			}
			list, err := s.content.List(ctx, opts)
			if list == nil {
				list = []*paste.Data{}
			}
			return list, err

		case CmdShow:
			var args IDArgs
			if err := decodeArgs(req, &args); err != nil {
				return nil, err
			}
			if len(args.IDs) != 1 {
				return nil, fmt.Errorf("show takes exactly one id")
			}
			return s.content.Get(ctx, args.IDs[0])

		case CmdDelete:
			var args IDArgs
			if err := decodeArgs(req, &args); err != nil {
				return nil, err
			}
			n, err := s.content.MarkDeleted(ctx, args.IDs...)
			return DeleteResult{Deleted: n}, err

		case CmdFavorite:
			var args FavoriteArgs
			if err := decodeArgs(req, &args); err != nil {
				return nil, err
			}
			return nil, s.content.SetFavorite(ctx, args.ID, args.Favorite)

		case CmdClean:
			return s.cleaner.Run(ctx)

		case CmdTasks:
			var args TasksArgs
			if err := decodeArgs(req, &args); err != nil {
				return nil, err
			}
			return s.taskStore.ListByStatus(ctx, args.Statuses...)
		}
		return nil, fmt.Errorf("unknown command %q", req.Command)
	}
}

func (s *Service) status(ctx context.Context) (StatusInfo, error) {
	info := StatusInfo{DeviceID: s.cfg.DeviceID, SyncEnabled: s.node != nil}
	if s.node != nil {
		info.PeerID = s.node.ID().String()
		info.Addrs = s.node.P2PAddrs()
		info.Devices = s.directory.Devices()
	}
	pending, err := s.taskStore.ListByStatus(ctx, task.StatusPreparing, task.StatusExecuting)
	if err != nil {
		return info, err
	}
	info.PendingTasks = len(pending)
	return info, nil
}
