package webauthn

//Identifiers for defined extensions
const (
	ExtensionAppID = "appid"
)

//AuthenticationExtensionsClientInputs contains the client extension input
//values for zero or more extensions. §5.7
type AuthenticationExtensionsClientInputs map[string]interface{}

//AuthenticationExtensionsClientOutputs containing the client extension output
//values for zero or more WebAuthn extensions. §5.8
type AuthenticationExtensionsClientOutputs map[string]interface{}

//Extension defines an extension to a creation options or request options
//object
type Extension func(AuthenticationExtensionsClientInputs)

//BuildExtensions builds the extension map to be added to the options object
func BuildExtensions(exts ...Extension) AuthenticationExtensionsClientInputs {
	extensions := make(AuthenticationExtensionsClientInputs)

	for _, ext := range exts {
		ext(extensions)
	}

	return extensions
}

//UseAppID adds the appid extension to the extensions object. §10.1
func UseAppID(appID string) Extension {
	return func(e AuthenticationExtensionsClientInputs) {
		e[ExtensionAppID] = appID
	}
}

//ExtensionValidator defines a function which validates an extension output
type ExtensionValidator func(interface{}, interface{}) error

//ExtensionValidators is a map to all implemented extension validators
var ExtensionValidators map[string]ExtensionValidator = map[string]ExtensionValidator{
	ExtensionAppID: VerifyAppID,
}

//VerifyAppID verifies the AppID extension response
func VerifyAppID(_, out interface{}) error {
	if _, ok := out.(bool); ok {
		return nil
	}
	return ErrVerifyClientExtensionOutput.Wrap(NewError("AppID output value must be bool"))
}

// validateExtensionOutputs runs each registered ExtensionValidator
// against the client extension outputs the authenticator returned,
// matching them against what was requested in the creation/request
// options. An output for an extension that was never requested is
// rejected unless allowUnrequested permits it, in which case it is
// instead surfaced as a warning. Outputs for extensions this package
// has no validator for are passed through unchecked.
func validateExtensionOutputs(requested AuthenticationExtensionsClientInputs, outputs AuthenticationExtensionsClientOutputs, allowUnrequested bool) ([]Warning, error) {
	var warnings []Warning
	for name, out := range outputs {
		validator, ok := ExtensionValidators[name]
		if !ok {
			continue
		}
		in, wasRequested := requested[name]
		if !wasRequested {
			if !allowUnrequested {
				return nil, ErrVerifyClientExtensionOutput.Wrap(NewError("extension %q output was not requested", name))
			}
			warnings = append(warnings, NewWarning(WarningUnrequestedExtension, "extension "+name+" output was not requested"))
		}
		if err := validator(in, out); err != nil {
			return nil, err
		}
	}
	return warnings, nil
}

//EffectiveRPID returns the effective relying party ID for the ceremony based on
//the usage of the AppID extension
func EffectiveRPID(opts *PublicKeyCredentialRequestOptions, cred *AssertionPublicKeyCredential) string {
	if credV, ok := cred.Extensions[ExtensionAppID]; ok {
		if useAppID, ok := credV.(bool); ok && useAppID {
			if optsV, ok := opts.Extensions[ExtensionAppID]; ok {
				if appID, ok := optsV.(string); ok {
					return appID
				}
			}
		}
	}
	return opts.RPID
}
