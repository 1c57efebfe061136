package event

import (
	"encoding/json"
	"fmt"
)

// MarshalCommand serializes a command payload for the command log.
func MarshalCommand(cmd Command) ([]byte, error) {
	return json.Marshal(cmd)
}

// UnmarshalCommand decodes a persisted command payload back into its
// concrete type for replay.
func UnmarshalCommand(ct CommandType, data []byte) (Command, error) {
	var cmd Command

	switch ct {
	case CommandTypeCreatePool:
		cmd = &CreatePool{}
	case CommandTypeInvest:
		cmd = &Invest{}
	case CommandTypeDivest:
		cmd = &Divest{}
	case CommandTypeExchange:
		cmd = &Exchange{}
	case CommandTypeCommissionSweep:
		cmd = &CommissionSweep{}
	case CommandTypeChangePoolParameters:
		cmd = &ChangePoolParameters{}
	case CommandTypeModifyAdmins:
		cmd = &ModifyAdmins{}
	case CommandTypeModifyPrivateInvestors:
		cmd = &ModifyPrivateInvestors{}
	case CommandTypeTransferLP:
		cmd = &TransferLP{}
	case CommandTypeGovDeposit:
		cmd = &GovDeposit{}
	case CommandTypeGovWithdraw:
		cmd = &GovWithdraw{}
	case CommandTypeDelegate:
		cmd = &Delegate{}
	case CommandTypeUndelegate:
		cmd = &Undelegate{}
	case CommandTypeDelegateTreasury:
		cmd = &DelegateTreasury{}
	case CommandTypeUndelegateTreasury:
		cmd = &UndelegateTreasury{}
	case CommandTypeVoteLock:
		cmd = &VoteLock{}
	case CommandTypeVoteUnlock:
		cmd = &VoteUnlock{}
	case CommandTypeRefreshMaxLock:
		cmd = &RefreshMaxLock{}
	case CommandTypeSetGovAssets:
		cmd = &SetGovAssets{}
	default:
		return nil, fmt.Errorf("unknown command type %d", ct)
	}

	if err := json.Unmarshal(data, cmd); err != nil {
		return nil, fmt.Errorf("unmarshal %s: %w", ct, err)
	}
	return cmd, nil
}

// CommandTypeFromString maps the persisted discriminator back to its enum.
func CommandTypeFromString(s string) (CommandType, error) {
	for ct := CommandTypeCreatePool; ct <= CommandTypeSetGovAssets; ct++ {
		if ct.String() == s {
			return ct, nil
		}
	}
	return CommandTypeUnknown, fmt.Errorf("unknown command type %q", s)
}
