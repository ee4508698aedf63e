package consensus

import "errors"

var (
	ErrInvalidProposal  = errors.New("invalid proposal")
	ErrInvalidVote      = errors.New("invalid vote")
	ErrInvalidSignature = errors.New("invalid signature")
	ErrDuplicateVote    = errors.New("duplicate vote")
	ErrConflictingVote  = errors.New("conflicting vote (equivocation)")
	ErrUnknownProposal  = errors.New("unknown proposal")
	ErrWrongView        = errors.New("vote for wrong view")
	ErrProposalClosed   = errors.New("proposal already terminal")
)
