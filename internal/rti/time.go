package rti

import (
	"SimFed/internal/hla"
	"SimFed/internal/logger"
	"SimFed/internal/sink"
	"SimFed/internal/timing"
	"SimFed/internal/wire"
)

// timeRequest serves the time management requests. Grants issued by the
// change are sent as callbacks after the response is queued, so the requester
// may see a grant before the answer to its own request.
func (r *RTI) timeRequest(f *federation, fed hla.FederateHandle, ctx *sink.Context) error {
	m := ctx.Msg.(*wire.TimeMessage)

	var (
		grants []timing.Grant
		err    error
	)

	resp := wire.Success()

	switch m.Kind {
	case wire.TypeEnableTimeRegulation:
		resp.Time, grants, err = f.timing.EnableRegulation(fed, m.Lookahead)
	case wire.TypeDisableTimeRegulation:
		grants, err = f.timing.DisableRegulation(fed)
	case wire.TypeEnableTimeConstrained:
		resp.Time, err = f.timing.EnableConstrained(fed)
	case wire.TypeDisableTimeConstrained:
		grants, err = f.timing.DisableConstrained(fed)
	case wire.TypeTimeAdvanceRequest:
		grants, err = f.timing.RequestAdvance(fed, m.Time)
	case wire.TypeModifyLookahead:
		grants, err = f.timing.ModifyLookahead(fed, m.Lookahead)
	}

	if err != nil {
		return err
	}

	if len(grants) > 0 {
		logger.Debug("time advance granted",
			"federation", f.name,
			"trigger", m.Kind,
			"from", fed,
			"grants", len(grants),
		)
	}

	r.deliverGrants(f, grants)
	ctx.Respond(resp)

	return nil
}
