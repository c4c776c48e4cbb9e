package sip

// Status codes defined in RFC 3261 Section 21 and common extensions.
// These are untyped constants so they can be passed directly wherever an
// int or StatusCode is expected.
const (
	StatusTrying                      = 100
	StatusRinging                     = 180
	StatusCallIsBeingForwarded        = 181
	StatusQueued                      = 182
	StatusSessionProgress             = 183
	StatusEarlyDialogTerminated       = 199
	StatusOK                          = 200
	StatusAccepted                    = 202
	StatusNoNotification              = 204
	StatusMultipleChoices             = 300
	StatusMovedPermanently            = 301
	StatusMovedTemporarily            = 302
	StatusUseProxy                    = 305
	StatusAlternativeService          = 380
	StatusBadRequest                  = 400
	StatusUnauthorized                = 401
	StatusPaymentRequired             = 402
	StatusForbidden                   = 403
	StatusNotFound                    = 404
	StatusMethodNotAllowed            = 405
	StatusNotAcceptable               = 406
	StatusProxyAuthenticationRequired = 407
	StatusRequestTimeout              = 408
	StatusGone                        = 410
	StatusConditionalRequestFailed    = 412
	StatusRequestEntityTooLarge       = 413
	StatusRequestURITooLong           = 414
	StatusUnsupportedMediaType        = 415
	StatusUnsupportedURIScheme        = 416
	StatusBadExtension                = 420
	StatusExtensionRequired           = 421
	StatusIntervalTooBrief            = 423
	StatusTemporarilyUnavailable      = 480
	StatusCallTransactionDoesNotExist = 481
	StatusLoopDetected                = 482
	StatusTooManyHops                 = 483
	StatusAddressIncomplete           = 484
	StatusAmbiguous                   = 485
	StatusBusyHere                    = 486
	StatusRequestTerminated           = 487
	StatusNotAcceptableHere           = 488
	StatusBadEvent                    = 489
	StatusRequestPending              = 491
	StatusUndecipherable              = 493
	// StatusSecurityAgreementRequired is the 3GPP IMS extension status code
	// (3GPP TS 24.229 §5.1.1.2.2) requiring IPSec/TLS security association
	// negotiation before the request can proceed.
	StatusSecurityAgreementRequired = 494
	StatusInternalServerError         = 500
	StatusNotImplemented              = 501
	StatusBadGateway                  = 502
	StatusServiceUnavailable          = 503
	StatusServerTimeout               = 504
	StatusVersionNotSupported         = 505
	StatusMessageTooLarge             = 513
	StatusBusyEverywhere              = 600
	StatusDecline                     = 603
	StatusDoesNotExistAnywhere        = 604
	StatusNotAcceptableGlobal         = 606
)
