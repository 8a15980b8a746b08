package cli

import "errors"

var (
	errFlagRequiresArg = errors.New("flag requires an argument")
	errUnknownFlag     = errors.New("unknown flag")
	errIDRequired      = errors.New("id is required")
	errTooManyArgs     = errors.New("too many arguments")
	errQueryRequired   = errors.New("search query is required")
	errSlotIncomplete  = errors.New("--start and --end must be given together")
)
