package codes

const (
	CODE_SUCCESS = 0

	CODE_ERR_UNKNOWN       = 1000
	CODE_ERR_BAD_PARAMS    = 1001
	CODE_ERR_REQFORMAT     = 1002
	CODE_ERR_OBJ_NOT_FOUND = 1003
	CODE_ERR_EXIST_OBJ     = 1004
	CODE_ERR_PROCESSING    = 1005

	CODE_ERR_SECURITY      = 2000
	CODE_ERR_REQ_EXPIRED   = 2001
	CODE_ERR_SIG_COMMON    = 2002
	CODE_ERR_PERMISSION    = 2003
	CODE_ERR_GRID_OCCUPIED = 3001
)
