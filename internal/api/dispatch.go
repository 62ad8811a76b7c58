package api

import (
	"encoding/json"
	"errors"

	"github.com/ernie/shaker/internal/domain"
	"github.com/ernie/shaker/internal/game"
)

// nameArg accepts {"name": ...}, {"targetName": ...} or a bare JSON string
func nameArg(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var obj struct {
		Name       string `json:"name"`
		TargetName string `json:"targetName"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		if obj.Name != "" {
			return obj.Name
		}
		return obj.TargetName
	}
	return ""
}

// decodeArg fills v from raw; a malformed payload leaves v zero so the
// command's own validation rejects it
func decodeArg(raw json.RawMessage, v interface{}) {
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, v)
	}
}

// dispatch routes one inbound event to the game state. Precondition failures
// are recorded in the audit log by State and never answered on the socket.
func (r *Router) dispatch(sess *game.Session, msg domain.Message) {
	token := sess.Token
	var err error

	switch msg.Type {
	case domain.ActionPerform:
		err = r.state.PerformAction(token)
	case domain.ActionUpgradePerAction:
		err = r.state.UpgradePerAction(token)
	case domain.ActionUpgradePassive:
		err = r.state.UpgradePassive(token)
	case domain.ActionBlockUser:
		err = r.state.BlockUser(token, nameArg(msg.Data))

	case domain.AdminNewUser:
		err = r.state.AdminNewUser(token, nameArg(msg.Data))
	case domain.AdminDeleteUser:
		err = r.state.AdminDeleteUser(token, nameArg(msg.Data))
	case domain.AdminRenameUser:
		var in domain.RenameInput
		decodeArg(msg.Data, &in)
		err = r.state.AdminRenameUser(token, in.OldName, in.NewName)
	case domain.AdminToggleAdmin:
		err = r.state.AdminToggleAdmin(token, nameArg(msg.Data))
	case domain.AdminUserInfo:
		err = r.state.AdminUserInfo(token, nameArg(msg.Data))
	case domain.AdminCreateEvent:
		var in domain.EventInput
		decodeArg(msg.Data, &in)
		err = r.state.AdminCreateEvent(token, in)
	case domain.AdminEditEvent:
		var in domain.EventInput
		decodeArg(msg.Data, &in)
		err = r.state.AdminEditEvent(token, in)
	case domain.AdminCancelEvent:
		err = r.state.AdminCancelEvent(token)
	case domain.AdminUpdateBlockSettings:
		var in domain.BlockSettingsInput
		decodeArg(msg.Data, &in)
		err = r.state.AdminUpdateBlockSettings(token, in)
	case domain.AdminBlockUser:
		err = r.state.AdminBlockUser(token, nameArg(msg.Data))
	case domain.AdminUnblockUser:
		err = r.state.AdminUnblockUser(token, nameArg(msg.Data))

	default:
		r.log.Debug().Str("event", msg.Type).Str("user", sess.Name).Msg("unknown event")
		return
	}

	if err != nil && !errors.Is(err, game.ErrNotAdmin) {
		r.log.Debug().Err(err).Str("event", msg.Type).Str("user", sess.Name).Msg("request not applied")
	}
}
